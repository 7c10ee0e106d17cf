// Command genctl submits an image generation to a genstudio server and
// polls it to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/aiox-platform/genstudio/internal/generation"
	"github.com/aiox-platform/genstudio/internal/outpaint"
)

type options struct {
	server      string
	token       string
	email       string
	password    string
	guestID     string
	prompt      string
	model       string
	mode        string
	aspect      string
	resolution  string
	refs        string
	canvasW     int
	canvasH     int
	offsetX     float64
	offsetY     float64
	scale       float64
	interval    time.Duration
	maxAttempts int
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", envOr("GENSTUDIO_URL", "http://localhost:8080"), "genstudio base URL")
	flag.StringVar(&o.token, "token", os.Getenv("GENSTUDIO_TOKEN"), "access token; empty runs as a guest")
	flag.StringVar(&o.email, "email", "", "sign in with this email instead of -token")
	flag.StringVar(&o.password, "password", os.Getenv("GENSTUDIO_PASSWORD"), "password for -email")
	flag.StringVar(&o.guestID, "guest", envOr("GENSTUDIO_GUEST_ID", ""), "guest id; generated when empty")
	flag.StringVar(&o.prompt, "prompt", "", "generation prompt (required)")
	flag.StringVar(&o.model, "model", "demo-model", "model id")
	flag.StringVar(&o.mode, "mode", string(generation.ModeTextToImage), "text2img, img2img or outpaint")
	flag.StringVar(&o.aspect, "aspect", "", "aspect ratio, e.g. 16:9")
	flag.StringVar(&o.resolution, "resolution", "", "resolution hint, e.g. 1024x1024")
	flag.StringVar(&o.refs, "ref", "", "comma-separated reference image paths")
	flag.IntVar(&o.canvasW, "canvas-width", 0, "outpaint canvas width")
	flag.IntVar(&o.canvasH, "canvas-height", 0, "outpaint canvas height")
	flag.Float64Var(&o.offsetX, "offset-x", 0, "outpaint source offset from canvas center, x")
	flag.Float64Var(&o.offsetY, "offset-y", 0, "outpaint source offset from canvas center, y")
	flag.Float64Var(&o.scale, "scale", 1, "outpaint source scale")
	flag.DurationVar(&o.interval, "interval", 3*time.Second, "poll interval")
	flag.IntVar(&o.maxAttempts, "attempts", 60, "maximum status polls before giving up")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if strings.TrimSpace(o.prompt) == "" {
		return errors.New("-prompt is required")
	}

	req, err := buildRequest(o)
	if err != nil {
		return err
	}

	if o.token == "" && o.email == "" && o.guestID == "" {
		o.guestID = uuid.NewString()
	}
	client := newAPIClient(o.server, o.token, o.guestID)
	if o.email != "" {
		token, err := client.Login(ctx, o.email, o.password)
		if err != nil {
			return fmt.Errorf("signing in: %w", err)
		}
		client.token = token
	}

	dim := color.New(color.FgHiBlack)
	header := color.New(color.FgCyan, color.Bold)

	acc, err := client.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("submitting generation: %w", err)
	}
	header.Printf("task %s\n", acc.TaskID)
	if client.token == "" {
		dim.Printf("guest %s, %d trial generations left\n", client.guestID, acc.Remaining)
	} else {
		dim.Printf("%d credits left\n", acc.Remaining)
	}

	res, err := generation.Wait(ctx, &progress{q: client, out: dim}, acc.TaskID, generation.PollPolicy{
		Interval:    o.interval,
		MaxAttempts: o.maxAttempts,
	})
	if errors.Is(err, generation.ErrPollTimeout) {
		color.New(color.FgYellow).Printf("gave up after %d polls; the task may still finish, check history\n", o.maxAttempts)
		return nil
	}
	if err != nil {
		return err
	}

	return report(ctx, client, acc.TaskID, res)
}

func report(ctx context.Context, client *apiClient, taskID string, res *generation.PollResult) error {
	if res.State == generation.StateFailed {
		color.New(color.FgRed).Printf("generation failed: %s\n", res.Error)
		return nil
	}

	// The stored task record carries the materialized copies.
	images := res.Images
	if st, err := client.Status(ctx, taskID); err == nil && len(st.Images) > 0 {
		images = st.Images
	}

	color.New(color.FgGreen, color.Bold).Printf("succeeded with %d image(s)\n", len(images))
	for _, img := range images {
		if strings.HasPrefix(img, "data:") {
			fmt.Printf("  %s... (%d bytes inline)\n", img[:min(len(img), 40)], len(img))
			continue
		}
		fmt.Printf("  %s\n", img)
	}
	return nil
}

// progress prints each observed state while delegating to the API client.
type progress struct {
	q     generation.Querier
	out   *color.Color
	polls int
}

func (p *progress) Query(ctx context.Context, taskID string) (*generation.PollResult, error) {
	r, err := p.q.Query(ctx, taskID)
	if err != nil {
		return nil, err
	}
	p.polls++
	p.out.Printf("  poll %d: %s\n", p.polls, r.State)
	return r, nil
}

func buildRequest(o options) (generation.Request, error) {
	req := generation.Request{
		Prompt:      o.prompt,
		ModelID:     o.model,
		Mode:        generation.Mode(o.mode),
		AspectRatio: o.aspect,
		Resolution:  o.resolution,
	}

	for _, path := range strings.Split(o.refs, ",") {
		if path = strings.TrimSpace(path); path == "" {
			continue
		}
		ref, err := readImage(path)
		if err != nil {
			return req, err
		}
		req.Images = append(req.Images, ref)
	}

	if req.Mode == generation.ModeOutpaint {
		req.Outpaint = &outpaint.Placement{
			CanvasWidth:  o.canvasW,
			CanvasHeight: o.canvasH,
			OffsetX:      o.offsetX,
			OffsetY:      o.offsetY,
			Scale:        o.scale,
		}
	}
	return req, nil
}

func readImage(path string) (generation.ImageRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return generation.ImageRef{}, fmt.Errorf("reading reference image: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = "image/png"
	}
	return generation.ImageRef{Data: data, MimeType: mt}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
