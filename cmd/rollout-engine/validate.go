package main

import (
	"context"
	"fmt"
	"strings"
)

// ValidateCmd parses and validates a manifest without touching the runtime.
type ValidateCmd struct {
	ManifestFile string `kong:"required,arg,name='manifest',help='Path to the HCL release manifest.'"`
}

// Run validates the manifest and prints a short summary of what it declares.
func (cmd ValidateCmd) Run(ctx context.Context) error {
	m, err := loadManifest(cmd.ManifestFile)
	if err != nil {
		return err
	}

	containers := 0
	for _, p := range m.Projects {
		containers += len(p.Containers)
	}
	fmt.Printf("manifest ok: %d project(s), %d container(s): %s\n",
		len(m.Projects), containers, strings.Join(m.ProjectNames(), ", "))
	return nil
}
