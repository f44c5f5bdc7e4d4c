// Copyright 2025 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/lf-edge/oort/internal/conf"
)

type clientConf struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

const ClientYaml = "client.yaml"

var (
	Version      = "unknown"
	LoadFileType = "relative"
)

func request(config *clientConf, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	url := fmt.Sprintf("http://%s:%d%s", config.Host, config.Port, path)
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect the server, please start the server: %v", err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s", strings.TrimSpace(string(content)))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, content, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(strings.TrimSpace(string(content)))
	}
	return nil
}

func main() {
	conf.LoadFileType = LoadFileType
	app := cli.NewApp()
	app.Name = "oort"
	app.Usage = "command line tool for the oort checkpoint coordinator"
	app.Version = Version

	var cfg map[string]clientConf
	err := conf.LoadConfigByName(ClientYaml, &cfg)
	if err != nil {
		conf.Log.Fatal(err)
		fmt.Printf("Failed to load config file with error %s.\n", err)
	}
	var config *clientConf
	c, ok := cfg["basic"]
	if !ok {
		fmt.Printf("No basic config in client.yaml, will use the default configuration.\n")
	} else {
		config = &c
	}
	if config == nil {
		config = &clientConf{
			Host: "127.0.0.1",
			Port: 7280,
		}
	}

	app.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "show coordinator status",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodGet, "/status", nil)
			},
		},
		{
			Name:  "flush",
			Usage: "force a barrier now and wait until it finishes",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "no-checkpoint",
					Usage: "do not force a durable checkpoint",
				},
			},
			Action: func(c *cli.Context) error {
				return request(config, http.MethodPost, "/flush", map[string]bool{
					"checkpoint": !c.Bool("no-checkpoint"),
				})
			},
		},
		{
			Name:  "pause",
			Usage: "pause the barrier flow",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodPost, "/pause", nil)
			},
		},
		{
			Name:  "resume",
			Usage: "resume a manually paused barrier flow",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodPost, "/resume", nil)
			},
		},
		{
			Name:  "progress",
			Usage: "show backfill progress of creating jobs",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodGet, "/ddl/progress", nil)
			},
		},
		{
			Name:  "params",
			Usage: "get or set the adjustable system params",
			Subcommands: []cli.Command{
				{
					Name:  "get",
					Usage: "show the current system params",
					Action: func(c *cli.Context) error {
						return request(config, http.MethodGet, "/params", nil)
					},
				},
				{
					Name:      "set",
					Usage:     "patch system params, e.g. oort params set checkpointFrequency=10",
					ArgsUsage: "key=value [key=value ...]",
					Action: func(c *cli.Context) error {
						if c.NArg() == 0 {
							return fmt.Errorf("at least one key=value pair is required")
						}
						patch := make(map[string]interface{}, c.NArg())
						for _, arg := range c.Args() {
							kv := strings.SplitN(arg, "=", 2)
							if len(kv) != 2 {
								return fmt.Errorf("invalid pair %q, expect key=value", arg)
							}
							patch[kv[0]] = parseValue(kv[1])
						}
						return request(config, http.MethodPatch, "/params", patch)
					},
				},
			},
		},
		{
			Name:  "jobs",
			Usage: "list streaming jobs",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodGet, "/jobs", nil)
			},
		},
		{
			Name:  "workers",
			Usage: "list workers",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodGet, "/workers", nil)
			},
		},
		{
			Name:  "stop",
			Usage: "stop the oort server",
			Action: func(c *cli.Context) error {
				return request(config, http.MethodPost, "/stop", nil)
			},
		},
	}

	sort.Sort(cli.CommandsByName(app.Commands))
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseValue(v string) interface{} {
	var out interface{}
	if json.Unmarshal([]byte(v), &out) == nil {
		return out
	}
	return v
}
