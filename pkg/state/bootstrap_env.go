package state

import (
	"os"

	"github.com/joho/godotenv"
)

// loadBootstrapEnv reads the minimal key=value file consulted before the
// config partition is even mounted, the equivalent of the teacher's
// cos-layout.env: whatever flags a first-boot image wants to set have to be
// simple enough to make sense ahead of any TOML config being available yet.
// A missing file just means "nothing to say", not an error.
func loadBootstrapEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	return godotenv.Read(path)
}

// bootstrapRequested reads the one flag this file is trusted with: whether
// this boot should run bootstrap/* hooks and first-boot partition
// expansion. An image builder drops RUGIX_BOOTSTRAP=1 into the file it
// bakes into the system slot; the running system removes or rewrites it
// once bootstrapping has completed so later boots do not repeat it.
func bootstrapRequested(env map[string]string) bool {
	v := env["RUGIX_BOOTSTRAP"]
	return v == "1" || v == "true"
}
