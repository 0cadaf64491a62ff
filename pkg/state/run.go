package state

import (
	"context"

	"github.com/spectrocloud-labs/herd"

	"github.com/rugix/rugix-ctrl-go/internal/constants"
	"github.com/rugix/rugix-ctrl-go/pkg/config"
	"github.com/rugix/rugix-ctrl-go/pkg/slots"
)

// Run loads configuration, builds the slot registry, and executes the full
// boot sequence, returning only on failure — success ends in execInit's
// unix.Exec never returning to Go. This is the single entry point the
// Coordinator's init invocation calls, playing the role main.go's
// g.Run(context.Background()) call played for the teacher.
func Run(ctx context.Context) (*State, *herd.Graph, error) {
	sysCfg, err := config.LoadSystemConfig()
	if err != nil {
		return nil, nil, err
	}
	stateCfg, err := config.LoadStateConfig()
	if err != nil {
		return nil, nil, err
	}
	registry, err := slots.NewFromConfig(sysCfg, "")
	if err != nil {
		return nil, nil, err
	}
	bootstrapEnv, err := loadBootstrapEnv(constants.BootstrapEnvPath)
	if err != nil {
		return nil, nil, err
	}

	s := &State{
		System:    sysCfg,
		Overlay:   stateCfg,
		Registry:  registry,
		Profile:   constants.DefaultProfile,
		Bootstrap: bootstrapRequested(bootstrapEnv),
	}

	g := herd.DAG(herd.EnableInit)
	if err := s.Build(g); err != nil {
		return s, g, err
	}
	return s, g, g.Run(ctx)
}
