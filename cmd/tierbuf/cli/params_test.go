// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type embeddedParams struct {
	Verbose bool `flag:"verbose,v" desc:"say more"`
}

type allTypesParams struct {
	embeddedParams
	Connection
	Name     string        `flag:"name"     default:"scratch"`
	Count    int           `flag:"count"    default:"3"`
	Delta    int64         `flag:"delta"    default:"-5"`
	Since    uint64        `flag:"since"    default:"7"`
	Score    float64       `flag:"score"    default:"0.5"`
	Wait     time.Duration `flag:"wait"     default:"2s"`
	Size     ByteSize      `flag:"size"     default:"1MiB"`
	Labels   []string      `flag:"labels"   default:"a,b"`
	Untagged string
}

func TestBindFlagsDefaults(t *testing.T) {
	t.Setenv(SocketEnvVar, "/run/tierbuf/test.sock")
	var params allTypesParams
	flagSet := FlagsFromParams("test", &params)
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if params.Name != "scratch" || params.Count != 3 || params.Delta != -5 || params.Since != 7 {
		t.Errorf("scalar defaults = %+v", params)
	}
	if params.Score != 0.5 || params.Wait != 2*time.Second || params.Size != 1<<20 {
		t.Errorf("score/wait/size defaults = %v %v %v", params.Score, params.Wait, params.Size)
	}
	if strings.Join(params.Labels, ",") != "a,b" {
		t.Errorf("labels default = %v", params.Labels)
	}
	if params.SocketPath != "/run/tierbuf/test.sock" || params.Timeout != 30*time.Second {
		t.Errorf("connection defaults = %+v", params.Connection)
	}
	if flagSet.Lookup("untagged") != nil {
		t.Error("field without a flag tag was bound")
	}
}

func TestBindFlagsParse(t *testing.T) {
	var params allTypesParams
	flagSet := FlagsFromParams("test", &params)
	err := flagSet.Parse([]string{
		"-v", "--size", "64KiB", "--delta=-9", "--socket", "/tmp/s.sock", "--max-response", "2MiB",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !params.Verbose || params.Size != 64<<10 || params.Delta != -9 {
		t.Errorf("parsed = verbose %v size %d delta %d", params.Verbose, params.Size, params.Delta)
	}
	if params.SocketPath != "/tmp/s.sock" || params.MaxResponseSize != 2<<20 {
		t.Errorf("connection = %+v", params.Connection)
	}
}

func TestBindFlagsRejects(t *testing.T) {
	tests := []struct {
		name   string
		params any
		want   string
	}{
		{"not_a_pointer", struct{}{}, "pointer to a struct"},
		{"unsupported_type", &struct {
			Ch chan int `flag:"ch"`
		}{}, "unsupported type"},
		{"bad_default", &struct {
			Count int `flag:"count" default:"many"`
		}{}, "default for --count"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := BindFlags(test.params, pflag.NewFlagSet("test", pflag.ContinueOnError))
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("BindFlags = %v, want an error containing %q", err, test.want)
			}
		})
	}
}

func TestConnectRequiresSocket(t *testing.T) {
	connection := Connection{}
	if _, err := connection.Connect(); err == nil {
		t.Fatal("Connect with no socket should fail")
	}
	connection.SocketPath = "/tmp/tierbuf.sock"
	if _, err := connection.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}
