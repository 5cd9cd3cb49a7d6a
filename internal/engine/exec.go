// Package engine executes a parsed pipeline.Filter tree against a
// registry.Registry: resolving names to handlers, binding arguments
// (bind.go), and supporting partial-URL re-entry for filters like
// "pattern" that need to re-invoke the grammar on a generated
// sub-pipeline string. Grounded on the original implementation's
// common/src/filter.rs (exec_filter, inject_img, exec_from_partial_url).
package engine

import (
	"imaginator/internal/ierr"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
	"imaginator/internal/registry"
)

// Exec logs f's name to the trace header, resolves its handler, and runs it.
func Exec(ctx *registry.Context, f *pipeline.Filter) (registry.Result, error) {
	if err := ctx.LogFilter(f.Name); err != nil {
		return nil, err
	}
	handler, ok := ctx.Registry.Lookup(f.Name)
	if !ok {
		return nil, ierr.New(ierr.KindUnknownFilter, "no such filter: %s", f.Name).WithStatus(400)
	}
	return handler(ctx, f.Args)
}

// sentinelFilterName is the placeholder image filter injectImage looks
// for and replaces with an already-resolved image.
const sentinelFilterName = "__img__"

// ExecFromPartialURL re-enters the pipeline grammar on rawURL — a
// filter-syntax fragment with no image source of its own — and splices
// img in as the innermost image argument before executing it. This
// powers filters (like "pattern") that build a sub-pipeline string at
// runtime and need it parsed and run against an image they already hold.
func ExecFromPartialURL(ctx *registry.Context, img *imagebackend.Image, rawURL string) (registry.Result, error) {
	f, _, err := pipeline.Parse(sentinelFilterName + "():" + rawURL)
	if err != nil {
		return nil, err
	}
	injectImage(img, f)
	return Exec(ctx.Clone(), f)
}

// injectImage walks down the chain of innermost image arguments until it
// finds the sentinel filter node chain-prepended by ExecFromPartialURL,
// and replaces that argument with an already-resolved image so execution
// doesn't try to re-run the (nonexistent) "__img__" filter.
func injectImage(img *imagebackend.Image, f *pipeline.Filter) {
	if len(f.Args) == 0 || f.Args[0].Kind != pipeline.ArgImg {
		return
	}
	if f.Args[0].Img.Name != sentinelFilterName {
		injectImage(img, f.Args[0].Img)
		return
	}
	f.Args[0] = pipeline.FilterArg{Kind: pipeline.ArgResolvedImg, Resolved: img}
}
