package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the
// system where concord is deployed. This
// enables host adaptions without needing
// to maintain two different config files.
// Use the .env file to pin the replica
// identity of the local node.
type Env struct {
	ReplicaID string
}

// Functions

// LoadEnv looks for an .env file in the directory
// of concord and reads in all defined values.
func LoadEnv() (*Env, error) {

	// Load environment file.
	err := godotenv.Load(".env")
	if err != nil {
		return nil, fmt.Errorf("[config.LoadEnv] Failed to read in .env file with: %s\n", err.Error())
	}

	env := new(Env)

	// Fill variables from .env into struct.
	env.ReplicaID = os.Getenv("REPLICA_ID")

	return env, nil
}
