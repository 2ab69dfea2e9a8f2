// Command dashctl inspects and drives a running dashboard through its
// display API.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/view"
)

const usage = `usage: dashctl [-addr URL] <command> [args]

commands:
  view                      print the merged view
  watch                     follow notifications
  control <camera> <action> start, stop or restart a camera
  period <today|week|month> switch the analytics window
  refresh <kind>            refetch one resource kind
`

func main() {
	addr := flag.String("addr", "http://localhost:8090", "Dashboard display API base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &apiClient{base: strings.TrimRight(*addr, "/"), http: &http.Client{}, timeout: *timeout}
	if err := dispatch(ctx, c, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dashctl: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, c *apiClient, args []string, out io.Writer) error {
	switch args[0] {
	case "view":
		var v view.View
		if err := c.call(ctx, http.MethodGet, "/api/view", nil, &v); err != nil {
			return err
		}
		renderView(out, v, time.Now())
		return nil

	case "watch":
		return c.watch(ctx, func(n notify.Notification) {
			renderNotification(out, n, time.Now())
		})

	case "control":
		if len(args) != 3 {
			return errors.New("control needs <camera> <action>")
		}
		var res struct {
			Message string `json:"message"`
		}
		body := map[string]string{"action": args[2]}
		if err := c.call(ctx, http.MethodPost, "/api/cameras/"+args[1]+"/control", body, &res); err != nil {
			return err
		}
		fmt.Fprintln(out, res.Message)
		return nil

	case "period":
		if len(args) != 2 {
			return errors.New("period needs <today|week|month>")
		}
		var res struct {
			Message string `json:"message"`
		}
		if err := c.call(ctx, http.MethodPost, "/api/analytics/period", map[string]string{"period": args[1]}, &res); err != nil {
			return err
		}
		fmt.Fprintln(out, res.Message)
		return nil

	case "refresh":
		if len(args) != 2 {
			return errors.New("refresh needs <kind>")
		}
		var res struct {
			Message string `json:"message"`
		}
		if err := c.call(ctx, http.MethodPost, "/api/refresh/"+args[1], nil, &res); err != nil {
			return err
		}
		fmt.Fprintln(out, res.Message)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type apiClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// watch follows the notification stream until ctx ends or the server
// closes it.
func (c *apiClient) watch(ctx context.Context, fn func(notify.Notification)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/notifications/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watch: %s", resp.Status)
	}

	err = readEvents(resp.Body, func(event string, data []byte) {
		if event != "notification" {
			return
		}
		var n notify.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			fmt.Fprintf(os.Stderr, "dashctl: bad notification: %v\n", err)
			return
		}
		fn(n)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents splits an SSE body into (event, data) pairs. Comment lines
// are skipped.
func readEvents(r io.Reader, fn func(event string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var event string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || data != nil {
				fn(event, data)
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != nil {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}
	return scanner.Err()
}
