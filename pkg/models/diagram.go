package models

import (
	"fmt"
	"strings"
)

// DiagramType selects the target document family.
type DiagramType string

const (
	DiagramBPMN DiagramType = "bpmn"
	DiagramPID  DiagramType = "pid"
	DiagramDMN  DiagramType = "dmn"
)

// DiagramTypes lists every supported type in a stable order.
var DiagramTypes = []DiagramType{DiagramBPMN, DiagramPID, DiagramDMN}

// ParseDiagramType accepts a case-insensitive type name.
func ParseDiagramType(s string) (DiagramType, error) {
	t := DiagramType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case DiagramBPMN, DiagramPID, DiagramDMN:
		return t, nil
	}
	return "", fmt.Errorf("unknown diagram type %q", s)
}

// Tier is a provider capability class.
type Tier string

const (
	TierFast  Tier = "fast"
	TierSmart Tier = "smart"
)

// FidelityMode controls how much layout detail the provider is asked to emit.
type FidelityMode string

const (
	FidelityFull          FidelityMode = "full"
	FidelityCompact       FidelityMode = "compact"
	FidelityStructureOnly FidelityMode = "structure-only"
)
