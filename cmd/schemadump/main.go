/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// schemadump prints the registered entity schema as YAML, either the built-in
// commerce schema or one loaded from a file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/suparena/querycore"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/schema/commerce"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	vFlag       = flag.Bool("v", false, "Show version information (short)")
	inFlag      = flag.String("in", "", "Schema YAML file to load instead of the built-in commerce schema")
)

func main() {
	flag.Parse()

	if *versionFlag || *vFlag {
		info := querycore.GetVersionInfo()
		fmt.Printf("QueryCore schemadump version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		os.Exit(0)
	}

	reg, err := loadRegistry(*inFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "schemadump: %v\n", err)
		os.Exit(1)
	}

	data, err := reg.MarshalYAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "schemadump: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func loadRegistry(path string) (*schema.Registry, error) {
	if path == "" {
		return commerce.New()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.LoadYAML(data)
}
