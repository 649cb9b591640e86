package model

import (
	"encoding/xml"
	"fmt"
)

const doctype = `<!DOCTYPE configuration PUBLIC "HiPIMS Configuration Schema 1.1" "http://www.lukesmith.org.uk/research/namespace/hipims/1.1/"[]>`

type configuration struct {
	XMLName    xml.Name   `xml:"configuration"`
	Metadata   metadata   `xml:"metadata"`
	Execution  execution  `xml:"execution"`
	Simulation simulation `xml:"simulation"`
}

type metadata struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
}

type execution struct {
	Executor executor `xml:"executor"`
}

type executor struct {
	Name       string      `xml:"name,attr"`
	Parameters []parameter `xml:"parameter"`
}

type parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type simulation struct {
	Parameters []parameter  `xml:"parameter"`
	Domains    []domainNode `xml:"domainSet>domain"`
}

type domainNode struct {
	Type         string             `xml:"type,attr"`
	DeviceNumber int                `xml:"deviceNumber,attr"`
	Data         dataNode           `xml:"data"`
	Scheme       scheme             `xml:"scheme"`
	Boundaries   boundaryConditions `xml:"boundaryConditions"`
}

type dataNode struct {
	SourceDir string       `xml:"sourceDir,attr"`
	TargetDir string       `xml:"targetDir,attr"`
	Sources   []dataSource `xml:"dataSource"`
	Targets   []dataTarget `xml:"dataTarget"`
}

type dataSource struct {
	Type   string `xml:"type,attr"`
	Value  string `xml:"value,attr"`
	Source string `xml:"source,attr"`
}

type dataTarget struct {
	Type   string `xml:"type,attr"`
	Value  string `xml:"value,attr"`
	Format string `xml:"format,attr"`
	Target string `xml:"target,attr"`
}

type scheme struct {
	Name       string      `xml:"name,attr"`
	Parameters []parameter `xml:"parameter"`
}

type boundaryConditions struct {
	SourceDir  string       `xml:"sourceDir,attr"`
	Timeseries []timeseries `xml:"timeseries"`
}

type timeseries struct {
	Type   string `xml:"type,attr"`
	Name   string `xml:"name,attr"`
	Value  string `xml:"value,attr"`
	Source string `xml:"source,attr"`
}

// marshalConfiguration renders the simulation configuration document.
func marshalConfiguration(c *configuration) ([]byte, error) {
	body, err := xml.MarshalIndent(c, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	out := []byte(`<?xml version="1.0"?>` + "\n" + doctype + "\n")
	out = append(out, body...)
	return append(out, '\n'), nil
}
