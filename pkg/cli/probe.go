package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uia2-server/pkg/uiautomator2"
)

var probeCommand = &cli.Command{
	Name:  "probe",
	Usage: "Check a running server and optionally look up an element",
	Description: `Query the status endpoint of a running server. With --find, also
open a session and resolve a locator, printing what was found.

Examples:
  uia2-server probe
  uia2-server probe --url http://192.168.1.20:6790 --find "id=login"
  uia2-server probe --find "xpath=//android.widget.Button" --all --end-session`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Usage:   "Server base URL",
			Value:   "http://127.0.0.1:6790",
			EnvVars: []string{"UIA2_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:  "find",
			Usage: "Locator as <strategy>=<selector>, e.g. \"accessibility id=submit\"",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Report every match instead of the first",
		},
		&cli.BoolFlag{
			Name:  "end-session",
			Usage: "Delete the probe session afterwards (this stops the server)",
		},
	},
	Action: runProbe,
}

// parseLocator splits "strategy=selector" on the first '='.
func parseLocator(s string) (strategy, selector string, err error) {
	strategy, selector, ok := strings.Cut(s, "=")
	strategy = strings.TrimSpace(strategy)
	if !ok || strategy == "" || selector == "" {
		return "", "", fmt.Errorf("invalid locator %q: expected <strategy>=<selector>", s)
	}
	return strategy, selector, nil
}

func describe(el *uiautomator2.Element) error {
	text, err := el.Text()
	if err != nil {
		return err
	}
	rect, err := el.Rect()
	if err != nil {
		return err
	}
	class, err := el.Attribute("class")
	if err != nil {
		return err
	}
	printSetupSuccess(fmt.Sprintf("Element %s", el.ID()))
	printField("class", class)
	printField("text", fmt.Sprintf("%q", text))
	printField("rect", fmt.Sprintf("(%d,%d) %dx%d", rect.X, rect.Y, rect.Width, rect.Height))
	return nil
}

func runProbe(c *cli.Context) error {
	client := uiautomator2.NewClientURL(strings.TrimRight(c.String("url"), "/"))

	printSetupStep(fmt.Sprintf("Contacting %s...", c.String("url")))
	st, err := client.Status()
	if err != nil {
		printFailure(err.Error())
		return fmt.Errorf("server not reachable: %w", err)
	}
	if !st.Ready {
		printFailure(st.Message)
		return fmt.Errorf("server is not ready")
	}
	printSetupSuccess(fmt.Sprintf("%s (version %s)", st.Message, st.Build.Version))

	locator := c.String("find")
	if locator == "" {
		return nil
	}
	strategy, selector, err := parseLocator(locator)
	if err != nil {
		return err
	}

	if err := client.CreateSession(uiautomator2.Capabilities{"platformName": "Android"}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	printSetupSuccess(fmt.Sprintf("Session %s", client.SessionID()))
	if c.Bool("end-session") {
		defer func() {
			if err := client.Close(); err != nil {
				printFailure(fmt.Sprintf("delete session: %v", err))
			}
		}()
	}

	var found []*uiautomator2.Element
	if c.Bool("all") {
		found, err = client.FindElements(strategy, selector)
	} else {
		var el *uiautomator2.Element
		if el, err = client.FindElement(strategy, selector); err == nil {
			found = []*uiautomator2.Element{el}
		}
	}
	if err != nil {
		printFailure(err.Error())
		return fmt.Errorf("find %s: %w", locator, err)
	}
	if len(found) == 0 {
		printFailure("no elements matched")
		return nil
	}
	for _, el := range found {
		if err := describe(el); err != nil {
			return err
		}
	}
	return nil
}
