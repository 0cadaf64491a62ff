package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rugix/rugix-ctrl-go/internal/cmd"
	"github.com/rugix/rugix-ctrl-go/internal/ctrlerr"
	"github.com/rugix/rugix-ctrl-go/internal/utils"
	"github.com/rugix/rugix-ctrl-go/internal/version"
	"github.com/rugix/rugix-ctrl-go/pkg/state"
)

// main wires the Coordinator's CLI surface. Invoked with no subcommand (the
// shape the kernel's init= line uses), it runs the boot-time State Manager
// sequence directly instead of going through urfave/cli's subcommand
// dispatch, mirroring the teacher's own default app.Action running the boot
// DAG while "version" stayed a subcommand.
func main() {
	utils.SetLogger()

	app := cli.NewApp()
	app.Name = "rugix-ctrl"
	app.Version = version.String()
	app.Usage = "on-device update controller"
	app.Action = func(c *cli.Context) error {
		v := version.Get()
		utils.Log.Info().Str("commit", v.Commit).Str("compiled with", v.GoVersion).Str("platform", v.Platform).Str("version", v.Version).Msg("rugix-ctrl")

		s, g, err := state.Run(context.Background())
		if s != nil && g != nil {
			utils.Log.Info().Msg(s.WriteDAG(g))
		}
		return err
	}
	app.Commands = append([]*cli.Command{
		{
			Name:  "version",
			Usage: "print version information",
			Action: func(c *cli.Context) error {
				v := version.Get()
				fmt.Printf("%s (commit %s, built %s, %s, %s)\n", v.Version, v.Commit, v.BuildDate, v.GoVersion, v.Platform)
				return nil
			},
		},
	}, cmd.Commands...)

	if err := app.Run(os.Args); err != nil {
		utils.Log.Error().Err(err).Msg("rugix-ctrl failed")
		os.Exit(ctrlerr.ExitCode(err))
	}
}
