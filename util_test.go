package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"testing"
	"time"
)

// result is what one CLI invocation produced.
type result struct {
	code   int
	stdout string
	stderr string
}

// runCLI runs the command in-process and fails the test if it takes longer than ddl.
func runCLI(t *testing.T, ddl time.Duration, args ...string) result {
	t.Helper()
	var res result
	timeout(ddl, func() {
		var stdout, stderr bytes.Buffer
		res.code = run(context.Background(), args, &stdout, &stderr)
		res.stdout, res.stderr = stdout.String(), stderr.String()
	}, "mandelbrot %v did not return in %v. Is a rank deadlocked?", args, ddl)
	return res
}

// readPNG decodes path and offers it to the preview window.
func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if rgba, ok := img.(*image.RGBA); ok && Preview != nil {
		select {
		case Preview <- rgba:
		default:
		}
	}
	return img
}

func timeout(ddl time.Duration, f func(), msg string, a ...interface{}) {
	done := make(chan bool, 1)
	go func() {
		f()
		done <- true
	}()
	select {
	case <-time.After(ddl):
		panic(fmt.Sprintf(msg, a...))
	case <-done:
		return
	}
}

func assert(predicate bool, msg string, a ...interface{}) {
	if !predicate {
		panic(fmt.Sprintf(msg, a...))
	}
}
