// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/cloudconnect/cmd/cloudconnect/cli"
	"github.com/bureau-foundation/cloudconnect/lib/broker"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
)

// parseGetArg reads PATH:TYPE, e.g. "/8888/11/111:string". The path
// itself is left for the broker to validate.
func parseGetArg(arg string) (broker.GetOperation, error) {
	index := strings.LastIndexByte(arg, ':')
	if index < 0 {
		return broker.GetOperation{}, fmt.Errorf("%q: want PATH:TYPE", arg)
	}
	resourceType, err := resource.ParseType(arg[index+1:])
	if err != nil {
		return broker.GetOperation{}, fmt.Errorf("%q: %w", arg, err)
	}
	return broker.GetOperation{Path: arg[:index], Type: resourceType}, nil
}

// parseSetArg reads PATH=TYPE:VALUE, e.g. "/8888/11/111=string:hello".
// Everything after the first colon is the value.
func parseSetArg(arg string) (broker.SetOperation, error) {
	path, typed, found := strings.Cut(arg, "=")
	if !found {
		return broker.SetOperation{}, fmt.Errorf("%q: want PATH=TYPE:VALUE", arg)
	}
	typeName, text, found := strings.Cut(typed, ":")
	if !found {
		return broker.SetOperation{}, fmt.Errorf("%q: want PATH=TYPE:VALUE", arg)
	}
	resourceType, err := resource.ParseType(typeName)
	if err != nil {
		return broker.SetOperation{}, fmt.Errorf("%q: %w", arg, err)
	}
	value, err := resource.ParseValue(resourceType, text)
	if err != nil {
		return broker.SetOperation{}, fmt.Errorf("%q: %w", arg, err)
	}
	return broker.SetOperation{Path: path, Value: value}, nil
}

// valueRow is one line of get/set output.
type valueRow struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Type   string `json:"type,omitempty"`
	Value  string `json:"value,omitempty"`
}

func writeRows(w io.Writer, rows []valueRow) error {
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(table, "PATH\tSTATUS\tTYPE\tVALUE")
	for _, row := range rows {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", row.Path, row.Status, row.Type, row.Value)
	}
	return table.Flush()
}

// finishRows prints rows and turns any failed entry into exit code 2.
func finishRows(output *cli.JSONOutput, rows []valueRow, failed bool) error {
	if done, err := output.Emit(os.Stdout, rows); done {
		if err != nil {
			return err
		}
	} else if err := writeRows(os.Stdout, rows); err != nil {
		return err
	}
	if failed {
		return &cli.ExitError{Code: 2}
	}
	return nil
}

func getCommand() *cli.Command {
	var (
		connection connectionFlags
		output     cli.JSONOutput
	)
	return &cli.Command{
		Name:    "get",
		Summary: "Read resource values",
		Description: "Read resource values. Each argument is PATH:TYPE; the broker checks\n" +
			"the type against the registered definition. Exits 2 if any entry failed.",
		Usage: "cloudconnect get [flags] TOKEN PATH:TYPE...",
		Examples: []cli.Example{
			{Command: "cloudconnect get $TOKEN /8888/11/111:string /8888/11/112:integer"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			connection.add(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("get takes a token and at least one PATH:TYPE")
			}
			operations := make([]broker.GetOperation, 0, len(args)-1)
			for _, arg := range args[1:] {
				operation, err := parseGetArg(arg)
				if err != nil {
					return err
				}
				operations = append(operations, operation)
			}

			ctx := context.Background()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var results []broker.GetResult
			if err := connection.call(ctx, func(ctx context.Context) error {
				results, err = client.GetResourcesValues(ctx, args[0], operations)
				return err
			}); err != nil {
				return err
			}
			if len(results) != len(operations) {
				return fmt.Errorf("broker answered %d of %d entries", len(results), len(operations))
			}

			rows := make([]valueRow, len(results))
			failed := false
			for index, result := range results {
				rows[index] = valueRow{Path: operations[index].Path, Status: result.Status.String()}
				if result.Status != status.Success {
					failed = true
					continue
				}
				rows[index].Type = result.Value.Type.String()
				rows[index].Value = result.Value.Text()
			}
			return finishRows(&output, rows, failed)
		},
	}
}

func setCommand() *cli.Command {
	var (
		connection connectionFlags
		output     cli.JSONOutput
	)
	return &cli.Command{
		Name:    "set",
		Summary: "Write resource values",
		Description: "Write resource values. Each argument is PATH=TYPE:VALUE. Opaque values\n" +
			"are base64 and time values are Unix seconds. Exits 2 if any entry failed.",
		Usage: "cloudconnect set [flags] TOKEN PATH=TYPE:VALUE...",
		Examples: []cli.Example{
			{Command: "cloudconnect set $TOKEN /8888/11/111=string:hello /8888/11/112=integer:42"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
			connection.add(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("set takes a token and at least one PATH=TYPE:VALUE")
			}
			operations := make([]broker.SetOperation, 0, len(args)-1)
			for _, arg := range args[1:] {
				operation, err := parseSetArg(arg)
				if err != nil {
					return err
				}
				operations = append(operations, operation)
			}

			ctx := context.Background()
			client, err := connection.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var codes []status.Code
			if err := connection.call(ctx, func(ctx context.Context) error {
				codes, err = client.SetResourcesValues(ctx, args[0], operations)
				return err
			}); err != nil {
				return err
			}
			if len(codes) != len(operations) {
				return fmt.Errorf("broker answered %d of %d entries", len(codes), len(operations))
			}

			rows := make([]valueRow, len(codes))
			failed := false
			for index, code := range codes {
				rows[index] = valueRow{
					Path:   operations[index].Path,
					Status: code.String(),
					Type:   operations[index].Value.Type.String(),
					Value:  operations[index].Value.Text(),
				}
				failed = failed || !code.OK()
			}
			return finishRows(&output, rows, failed)
		},
	}
}
