package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	cli "github.com/urfave/cli/v2"
)

var adminCmd = &cli.Command{
	Name:  "admin",
	Usage: "sub-commands for administering a running porter instance",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "http://localhost:2510",
			EnvVars: []string{"PMGATE_HOST"},
		},
	},
	Subcommands: []*cli.Command{
		adminStatusCmd,
		adminSetEnabledCmd,
		adminSettingsCmd,
		adminSetSettingCmd,
		adminWhitelistCmd,
		adminRescanCmd,
	},
}

// adminRequest hits one admin API endpoint and decodes the JSON response.
// Non-200 responses come back as errors carrying the server's message.
func adminRequest(cctx *cli.Context, method, path string, query url.Values) (json.RawMessage, error) {
	u := cctx.String("host") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cctx.String("admin-token"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		var e struct {
			Error any `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d: %v", resp.StatusCode, e.Error)
	}

	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func printJSON(raw json.RawMessage) error {
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

var adminStatusCmd = &cli.Command{
	Name:  "status",
	Usage: "show engine status and decision counts",
	Action: func(cctx *cli.Context) error {
		out, err := adminRequest(cctx, "GET", "/admin/engine/status", nil)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var adminSetEnabledCmd = &cli.Command{
	Name:      "set-enabled",
	Usage:     "turn admission control on or off",
	ArgsUsage: "<true|false>",
	Action: func(cctx *cli.Context) error {
		out, err := adminRequest(cctx, "POST", "/admin/engine/setEnabled", url.Values{
			"enabled": []string{cctx.Args().First()},
		})
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var adminSettingsCmd = &cli.Command{
	Name:  "settings",
	Usage: "show the current engine settings",
	Action: func(cctx *cli.Context) error {
		out, err := adminRequest(cctx, "GET", "/admin/settings", nil)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var adminSetSettingCmd = &cli.Command{
	Name:  "set",
	Usage: "change one engine setting",
	Subcommands: []*cli.Command{
		{
			Name:      "challenge-timeout",
			ArgsUsage: "<duration>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/settings/setChallengeTimeout", url.Values{
					"timeout": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "flood-params",
			ArgsUsage: "<threshold> <window>",
			Action: func(cctx *cli.Context) error {
				if cctx.Args().Len() != 2 {
					return fmt.Errorf("must pass a threshold and a window duration")
				}
				out, err := adminRequest(cctx, "POST", "/admin/settings/setFloodParams", url.Values{
					"threshold": []string{cctx.Args().Get(0)},
					"window":    []string{cctx.Args().Get(1)},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "cooldown",
			ArgsUsage: "<duration>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/settings/setCooldown", url.Values{
					"cooldown": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "group-threshold",
			ArgsUsage: "<count>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/settings/setGroupThreshold", url.Values{
					"threshold": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "block-bots",
			ArgsUsage: "<true|false>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/settings/setBlockBots", url.Values{
					"enabled": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "destructive-reject",
			ArgsUsage: "<true|false>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/settings/setDestructiveReject", url.Values{
					"enabled": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
	},
}

var adminWhitelistCmd = &cli.Command{
	Name:  "whitelist",
	Usage: "inspect and edit the trusted sender whitelist",
	Subcommands: []*cli.Command{
		{
			Name: "list",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "GET", "/admin/whitelist", nil)
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "add",
			ArgsUsage: "<senderID>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/whitelist/add", url.Values{
					"sender": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		{
			Name:      "remove",
			ArgsUsage: "<senderID>",
			Action: func(cctx *cli.Context) error {
				out, err := adminRequest(cctx, "POST", "/admin/whitelist/remove", url.Values{
					"sender": []string{cctx.Args().First()},
				})
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
	},
}

var adminRescanCmd = &cli.Command{
	Name:  "rescan",
	Usage: "trust existing conversations with prior history",
	Action: func(cctx *cli.Context) error {
		out, err := adminRequest(cctx, "POST", "/admin/engine/rescan", nil)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}
