package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"drawing-board/internal/canvas"
	"drawing-board/internal/peer"
	"drawing-board/internal/render"
)

const (
	exportWidth  = 800
	exportHeight = 600
)

var errQuit = errors.New("quit")

// script drives a peer from line-oriented commands:
//
//	seg x1 y1 x2 y2   draw one segment in normalised coordinates
//	end               end the current stroke
//	clear             clear the board
//	color #rrggbb     select the brush colour
//	size n            select the brush size
//	erase | draw      select the tool
//	png path [w h]    export the board as PNG
//	pdf path [w h]    export the board as PDF
//	status            log the peer state
//	quit              leave the room
type script struct {
	p      *peer.Peer
	style  peer.Style
	logger *slog.Logger
}

func newScript(p *peer.Peer, logger *slog.Logger) *script {
	return &script{p: p, style: peer.DefaultStyle(), logger: logger}
}

// run executes commands from r until EOF, quit or ctx ends.
func (s *script) run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) || errors.Is(err, peer.ErrStopped) {
				return err
			}
			s.logger.Warn("command failed", "line", line, "err", err)
		}
	}
	return sc.Err()
}

func (s *script) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "seg":
		v, err := floats(args, 4)
		if err != nil {
			return err
		}
		return s.p.Draw(ctx, canvas.Point{X: v[0], Y: v[1]}, canvas.Point{X: v[2], Y: v[3]}, s.style)
	case "end":
		return s.p.EndStroke(ctx)
	case "clear":
		return s.p.Clear(ctx)
	case "color":
		if len(args) != 1 {
			return fmt.Errorf("color: want 1 argument")
		}
		s.style.Color = args[0]
	case "size":
		v, err := floats(args, 1)
		if err != nil {
			return err
		}
		s.style.Size = v[0]
	case "erase":
		s.style.Mode = canvas.ModeErase
	case "draw":
		s.style.Mode = canvas.ModeDraw
	case "png", "pdf":
		return s.export(ctx, fields[0], args)
	case "status":
		snap, err := s.p.Snapshot(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("status", "state", snap.State, "status", snap.Status,
			"participants", snap.Participants, "commands", len(snap.History), "pending", snap.Pending)
	case "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

func (s *script) export(ctx context.Context, format string, args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return fmt.Errorf("%s: want path [width height]", format)
	}
	w, h := exportWidth, exportHeight
	if len(args) == 3 {
		v, err := floats(args[1:], 2)
		if err != nil {
			return err
		}
		w, h = int(v[0]), int(v[1])
	}
	path := args[0]

	switch format {
	case "png":
		r := render.NewRaster(w, h)
		if err := s.p.Replay(ctx, r, w, h); err != nil {
			return err
		}
		if err := r.SavePNG(path); err != nil {
			return err
		}
	default:
		r := render.NewPDF(w, h)
		if err := s.p.Replay(ctx, r, w, h); err != nil {
			return err
		}
		if err := r.Save(path); err != nil {
			return err
		}
	}
	s.logger.Info("exported", "format", format, "path", path, "width", w, "height", h)
	return nil
}

func floats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d numbers, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}
