// Command stencilperf runs microbenchmarks over stencilkit's core
// subsystems: block sweeping, halo exchange, bounding-box discovery, and
// vector lane copies.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sbl8/stencilkit/bbox"
	"github.com/sbl8/stencilkit/dim"
	"github.com/sbl8/stencilkit/dispatch"
	"github.com/sbl8/stencilkit/grid"
	"github.com/sbl8/stencilkit/haloexchange"
	"github.com/sbl8/stencilkit/loopnest"
	"github.com/sbl8/stencilkit/rankgrid"
)

var (
	testType = flag.String("test", "all", "test type: all, sweep, halo, bbox, lanes")
	size     = flag.Int("size", 256, "domain size per side")
	iter     = flag.Int("iter", 100, "number of iterations")
	verbose  = flag.Bool("verbose", false, "verbose output")
)

func main() {
	flag.Parse()

	fmt.Printf("stencilkit Performance Analysis Tool\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPUs: %d\n", runtime.NumCPU())
	fmt.Printf("Domain Size: %dx%d\n", *size, *size)
	fmt.Printf("Iterations: %d\n\n", *iter)

	switch *testType {
	case "all":
		runSweepTest()
		runHaloTest()
		runBBoxTest()
		runLanesTest()
	case "sweep":
		runSweepTest()
	case "halo":
		runHaloTest()
	case "bbox":
		runBBoxTest()
	case "lanes":
		runLanesTest()
	default:
		fmt.Printf("unknown test type: %s\n", *testType)
		os.Exit(1)
	}
}

func testDims() []dim.Dim {
	return []dim.Dim{dim.NewDomainDim("x", 1, 1), dim.NewDomainDim("y", 1, 1)}
}

func runSweepTest() {
	fmt.Printf("Block Sweep Performance\n")
	fmt.Printf("------------------------\n")

	region := loopnest.Box{Begin: map[string]int64{"x": 0, "y": 0}, End: map[string]int64{"x": int64(*size), "y": int64(*size)}}
	blocks := loopnest.TileRegion(region, map[string]int64{"x": 32, "y": 32})

	var visited int64
	b := &dispatch.Bundle{
		Name:       "bench",
		CalcScalar: func(point map[string]int64, stepSlot int64) { visited++ },
	}
	b.BB.IsFull = true
	pack := &dispatch.Pack{Bundles: []*dispatch.Bundle{b}}
	driver := loopnest.NewDriver(runtime.NumCPU())

	start := time.Now()
	for i := 0; i < *iter; i++ {
		if err := driver.SweepRegion(context.Background(), pack, blocks, int64(i), 0, dispatch.Scalar); err != nil {
			fmt.Printf("sweep error: %v\n", err)
			return
		}
	}
	elapsed := time.Since(start)

	pointsPerSweep := int64(*size) * int64(*size)
	throughput := float64(pointsPerSweep*int64(*iter)) / elapsed.Seconds()
	fmt.Printf("Block Sweep (%d blocks):      %v (%.2f Mpoints/s)\n", len(blocks), elapsed, throughput/1e6)
	if *verbose {
		fmt.Printf("  total points visited: %d\n", visited)
	}
	fmt.Printf("\n")
}

func runHaloTest() {
	fmt.Printf("Halo Exchange Performance\n")
	fmt.Printf("--------------------------\n")

	dims := testDims()
	transports := rankgrid.NewInProcCluster(2)

	v0, _ := grid.NewVar("u", dims)
	_ = v0.SetDomainSize("x", int64(*size))
	_ = v0.SetDomainSize("y", int64(*size))
	_, _ = v0.UpdateHalo("bench", -1, map[string]int64{"x": 1})
	_ = v0.SetPad("x", 1, 1)
	_ = v0.Bind(nil)

	v1, _ := grid.NewVar("u", dims)
	_ = v1.SetDomainSize("x", int64(*size))
	_ = v1.SetDomainSize("y", int64(*size))
	_, _ = v1.UpdateHalo("bench", -1, map[string]int64{"x": 1})
	_ = v1.SetPad("x", 1, 1)
	_ = v1.Bind(nil)

	ex0 := haloexchange.NewExchanger(transports[0])
	ex1 := haloexchange.NewExchanger(transports[1])

	neighbor01 := rankgrid.Neighbor{Rank: 1, Offset: []int64{1, 0}, HasAllVlenMults: true}
	neighbor10 := rankgrid.Neighbor{Rank: 0, Offset: []int64{-1, 0}, HasAllVlenMults: true}

	send, recv := haloexchange.ComputeSlabs(haloexchange.Next, 0, int64(*size)-1, 1, 1)
	specs0 := []haloexchange.BufferSpec{{VarIndex: 0, Var: v0, Neighbor: neighbor01, SendSlab: map[string]haloexchange.Slab{"x": send}, RecvSlab: map[string]haloexchange.Slab{"x": recv}}}
	send2, recv2 := haloexchange.ComputeSlabs(haloexchange.Prev, 0, int64(*size)-1, 1, 1)
	specs1 := []haloexchange.BufferSpec{{VarIndex: 0, Var: v1, Neighbor: neighbor10, SendSlab: map[string]haloexchange.Slab{"x": send2}, RecvSlab: map[string]haloexchange.Slab{"x": recv2}}}

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < *iter; i++ {
		v0.SetDirty(0, true)
		v1.SetDirty(0, true)
		done := make(chan error, 2)
		go func() {
			r, err := ex0.PostReceives(ctx, specs0, int64(i))
			if err != nil {
				done <- err
				return
			}
			s, err := ex0.PackAndSend(ctx, specs0, int64(i))
			if err != nil {
				done <- err
				return
			}
			if err := ex0.WaitAndUnpack(ctx, r, int64(i)); err != nil {
				done <- err
				return
			}
			done <- ex0.WaitOnSends(ctx, s)
		}()
		go func() {
			r, err := ex1.PostReceives(ctx, specs1, int64(i))
			if err != nil {
				done <- err
				return
			}
			s, err := ex1.PackAndSend(ctx, specs1, int64(i))
			if err != nil {
				done <- err
				return
			}
			if err := ex1.WaitAndUnpack(ctx, r, int64(i)); err != nil {
				done <- err
				return
			}
			done <- ex1.WaitOnSends(ctx, s)
		}()
		for j := 0; j < 2; j++ {
			if err := <-done; err != nil {
				fmt.Printf("exchange error: %v\n", err)
				return
			}
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("Halo Exchange (face=%d):      %v (%.2f exchanges/s)\n", *size, elapsed, float64(*iter)/elapsed.Seconds())
	fmt.Printf("\n")
}

func runBBoxTest() {
	fmt.Printf("Bounding Box Discovery Performance\n")
	fmt.Printf("-----------------------------------\n")

	dims := testDims()
	extent := bbox.NewBox(dims, map[string]int64{"x": 0, "y": 0}, map[string]int64{"x": int64(*size), "y": int64(*size)})
	half := int64(*size) / 2
	valid := func(point map[string]int64) bool {
		return !(point["x"] >= half && point["y"] >= half)
	}

	start := time.Now()
	var bb bbox.BundleBB
	for i := 0; i < *iter/10+1; i++ {
		bb = bbox.Discover(dims, extent, valid, runtime.NumCPU())
	}
	elapsed := time.Since(start)

	fmt.Printf("L-shape Discover (%dx%d):     %v (sub-boxes=%d)\n", *size, *size, elapsed, len(bb.SubBBs))
	fmt.Printf("\n")
}

func runLanesTest() {
	fmt.Printf("Vector Lane Copy Performance\n")
	fmt.Printf("-----------------------------\n")

	src := make([]float64, *size)
	dst := make([]float64, *size)

	start := time.Now()
	for i := 0; i < *iter; i++ {
		dispatch.CopyLanesOptimized(dst, src)
	}
	elapsed := time.Since(start)

	throughput := float64(int64(*size)*int64(*iter)) / elapsed.Seconds()
	fmt.Printf("Lane Copy (%d lanes):         %v (%.2f Mlanes/s)\n", *size, elapsed, throughput/1e6)
	fmt.Printf("\n")
}
