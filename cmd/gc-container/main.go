// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package main runs a single generic container hosting one passthrough
// module between an external input and an external output port, wired to
// Prometheus telemetry and (optionally) a Redis-backed config registry.
//
// This is a demonstration harness, not a production host: it synthesizes
// its own PCM input on a ticker instead of taking a real upstream feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"gc/bufmgr"
	"gc/container"
	"gc/internal/cfgstore"
	"gc/internal/vote"
	"gc/mediafmt"
	"gc/module"
	"gc/port"
	"gc/threshold"
)

func main() {
	frameLenUS := flag.Uint64("frame_len_us", 5000, "Container frame length, microseconds")
	sampleRate := flag.Uint("sample_rate", 48000, "PCM sample rate, Hz")
	bitWidth := flag.Int("bit_width", 16, "PCM bits per sample")
	numChannels := flag.Int("num_channels", 2, "PCM channel count")
	icbFrames := flag.Int("icb_frames", 2, "Inter-container buffering frame multiplier for external ports")
	metricsAddr := flag.String("metrics_addr", ":9091", "Prometheus /metrics listen address; empty disables")
	redisAddr := flag.String("redis_addr", "", "If set, register this container's startup config in Redis at this address")
	flag.Parse()

	mf := mediafmt.MediaFormat{
		Format:       mediafmt.FormatPCM,
		NumChannels:  *numChannels,
		SampleRate:   uint32(*sampleRate),
		BitWidth:     *bitWidth,
		Interleaving: mediafmt.Interleaved,
		Valid:        true,
	}

	const moduleID = 1
	const inRef port.Ref = 10
	const outRef port.Ref = 11

	passMod := module.NewModule(moduleID, "passthrough", module.KindGenericSignalTriggered, module.ShapeSISO)
	passMod.Flags = module.Flags{NeedsSignalTrigger: true, RequiresDataBuffer: true}
	passMod.Cap = passthroughCap{}
	passMod.InputPortIDs = []uint32{uint32(inRef)}
	passMod.OutputPortIDs = []uint32{uint32(outRef)}

	dpIn := port.NewDataPort(inRef, port.Input, moduleID)
	dpOut := port.NewDataPort(outRef, port.Output, moduleID)
	// The output port's format is known up front here (it mirrors the
	// module's only input); a multi-hop graph would instead let the
	// threshold engine's media-format propagation fill this in.
	dpOut.MediaFormat = mf
	dpIn.State, dpOut.State = port.StatePrepared, port.StatePrepared

	extIn := port.NewExternal(dpIn, 0, 16)
	extOut := port.NewExternal(dpOut, 0, 16)

	cfg := container.Config{
		Threshold: threshold.Config{
			ConfiguredFrameLenUS: *frameLenUS,
			PerfMode:             threshold.PerfLowLatency,
		},
		BufMgr: bufmgr.Config{
			ICBFrames: *icbFrames,
		},
		TimerTick: time.Duration(*frameLenUS) * time.Microsecond,
	}
	c := container.New(cfg)
	c.AddModule(passMod)
	if err := c.AddExternal(extIn); err != nil {
		log.Fatalf("gc-container: add input port: %v", err)
	}
	if err := c.AddExternal(extOut); err != nil {
		log.Fatalf("gc-container: add output port: %v", err)
	}

	sink := vote.NewSink(vote.Config{MetricsAddr: *metricsAddr, LogInterval: 15 * time.Second})
	defer sink.Close()
	c.AttachVoteSink(sink)

	if *redisAddr != "" {
		attachCfgStore(c, *redisAddr)
	}

	// Prime the media format: a real upstream would send this as the first
	// message on the port's queue once it knows its own format.
	extIn.Queue.TryPush(port.Message{
		Kind: port.MsgMediaFormat,
		MediaFormat: &port.MediaFormatPayload{
			FormatID:     uint32(mediafmt.FormatPCM),
			NumChannels:  *numChannels,
			SampleRate:   uint32(*sampleRate),
			BitWidth:     *bitWidth,
			Interleaving: int(mediafmt.Interleaved),
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	c.SubmitCommand(container.Command{Op: container.OpPrepare})
	c.SubmitCommand(container.Command{Op: container.OpStart})

	if *redisAddr != "" {
		registerStartupCfg(c, moduleID)
	}

	stopFeed := make(chan struct{})
	go feedSilence(extIn, mf, time.Duration(*frameLenUS)*time.Microsecond, stopFeed)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("gc-container: running, frame=%dus metrics=%s\n", *frameLenUS, *metricsAddr)
	select {
	case <-stop:
		fmt.Println("\ngc-container: shutting down...")
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			log.Printf("gc-container: run loop exited: %v", err)
		}
		close(stopFeed)
		return
	}

	close(stopFeed)
	reply := make(chan error, 1)
	c.SubmitCommand(container.Command{Op: container.OpDestroy, Reply: reply})
	select {
	case <-reply:
	case <-time.After(time.Second):
	}
	cancel()
	<-runErr
	fmt.Println("gc-container: stopped.")
}

// passthroughCap is the demo module's Capability: it copies as many bytes
// as fit from its single input to its single output, unchanged.
type passthroughCap struct{}

func (passthroughCap) Process(inputs, outputs [][]byte) (consumed, produced []int, err error) {
	n := 0
	if len(inputs) > 0 && len(outputs) > 0 {
		n = copy(outputs[0], inputs[0])
	}
	return []int{n}, []int{n}, nil
}

func (passthroughCap) SetParam(id uint32, payload []byte) error { return nil }
func (passthroughCap) GetParam(id uint32) ([]byte, error)       { return nil, nil }
func (passthroughCap) SetProperties(props map[string]any) error { return nil }

// feedSilence simulates an upstream producer: every frame interval it
// enqueues one frame of PCM silence on the input port's queue, dropping the
// frame (as a real-time producer would) if the queue is still full.
func feedSilence(ext *port.External, mf mediafmt.MediaFormat, interval time.Duration, stop <-chan struct{}) {
	frameBytes := mediafmt.MicrosToBytes(uint64(interval.Microseconds()), mf)
	if frameBytes <= 0 {
		frameBytes = mf.BytesPerSampleAllCh()
	}
	payload := make([]byte, frameBytes)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ext.Queue.TryPush(port.Message{Kind: port.MsgDataBufferV1, Payload: payload})
		}
	}
}

// attachCfgStore wires a Redis-backed config registry into the container so
// the OpRegisterCfg/OpDeregisterCfg/OpGetCfg/OpSetCfg command handlers
// actually persist instead of no-opping.
func attachCfgStore(c *container.Container, addr string) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	c.AttachCfgStore(cfgstore.NewRedisRegistry(client, 0))
}

// registerStartupCfg demonstrates the idempotent config-registry path:
// register a fixed placeholder payload ("initial") under a fixed commit ID,
// through the container's own OpRegisterCfg opcode, so a restarted instance
// pointed at the same Redis doesn't double-apply it.
func registerStartupCfg(c *container.Container, moduleID uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply := make(chan error, 1)
	c.SubmitCommand(container.Command{
		Op: container.OpRegisterCfg,
		Payload: &container.CfgPayload{
			Ctx:      ctx,
			Key:      cfgstore.RegisterCfgKey{ContainerID: 1, ModuleID: moduleID, ParamID: 0},
			CommitID: "startup-frame-len",
			Data:     []byte("initial"),
		},
		Reply: reply,
	})
	select {
	case err := <-reply:
		if err != nil {
			log.Printf("gc-container: redis register-cfg skipped: %v", err)
		}
	case <-time.After(2 * time.Second):
		log.Printf("gc-container: redis register-cfg timed out waiting for the run loop")
	}
}
