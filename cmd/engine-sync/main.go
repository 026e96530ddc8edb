// Command engine-sync decodes crank and cam trigger wheels, drives
// angle-scheduled outputs and publishes sync diagnostics to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/sweeney/engine-sync/internal/emulator"
	"github.com/sweeney/engine-sync/internal/engine"
	"github.com/sweeney/engine-sync/internal/gpio"
	"github.com/sweeney/engine-sync/internal/hwtimer"
	"github.com/sweeney/engine-sync/internal/injection"
	"github.com/sweeney/engine-sync/internal/monitor"
	"github.com/sweeney/engine-sync/internal/mqtt"
	"github.com/sweeney/engine-sync/internal/shaft"
	"github.com/sweeney/engine-sync/internal/status"
	"github.com/sweeney/engine-sync/internal/tach"
	"github.com/sweeney/engine-sync/internal/trigger"
	"github.com/sweeney/engine-sync/internal/waveform"
	"github.com/sweeney/engine-sync/internal/web"
)

type options struct {
	// trigger wheel
	triggerType  string
	teeth        int
	skipped      int
	mode         string
	risingOnly   bool
	invertCrank  bool
	invertSecond bool
	invertCam    bool
	vvtOffset    float64

	// edge source and outputs
	chip         string
	crankLine    int
	camLine      int
	tachLine     int
	tachPPR      int
	injectorLine int
	injectorDeg  float64
	fuelMs       float64
	deadTimeMs   float64
	emulateRPM   float64

	// reporting
	poll          time.Duration
	debounce      time.Duration
	broker        string
	heartbeat     time.Duration
	httpAddr      string
	printWaveform bool
	printState    bool
}

func main() {
	var o options
	flag.StringVar(&o.triggerType, "trigger", engine.TypeToothed, `Trigger type ("toothed", "one", "one-plus-one")`)
	flag.IntVar(&o.teeth, "teeth", 60, "Total teeth on a toothed wheel, including missing ones")
	flag.IntVar(&o.skipped, "skipped", 2, "Missing teeth on a toothed wheel")
	flag.StringVar(&o.mode, "mode", waveform.FourStrokeCrankSensor.String(), "Operation mode (four-stroke-crank, four-stroke-cam, two-stroke, four-stroke-symmetrical-crank)")
	flag.BoolVar(&o.risingOnly, "rising-only", false, "Decode rising edges only")
	flag.BoolVar(&o.invertCrank, "invert-crank", false, "Invert primary crank input polarity")
	flag.BoolVar(&o.invertSecond, "invert-secondary", false, "Invert secondary crank input polarity")
	flag.BoolVar(&o.invertCam, "invert-cam", false, "Invert cam input polarity")
	flag.Float64Var(&o.vvtOffset, "vvt-offset", 0, "Cam sync offset in degrees")
	flag.StringVar(&o.chip, "chip", "gpiochip0", "GPIO character device")
	flag.IntVar(&o.crankLine, "crank-line", gpio.LineCrank, "Crank sensor line offset")
	flag.IntVar(&o.camLine, "cam-line", gpio.LineCam, "Cam sensor line offset (-1 to disable)")
	flag.IntVar(&o.tachLine, "tach-line", gpio.LineTach, "Tachometer output line offset (-1 to disable)")
	flag.IntVar(&o.tachPPR, "tach-ppr", 2, "Tachometer pulses per crank revolution")
	flag.IntVar(&o.injectorLine, "injector-line", -1, "Injector output line offset (-1 to disable)")
	flag.Float64Var(&o.injectorDeg, "injector-angle", 0, "Injector opening angle in crank degrees after the sync tooth that starts the engine cycle")
	flag.Float64Var(&o.fuelMs, "fuel-ms", 2, "Injected fuel per cycle in ms of flow")
	flag.Float64Var(&o.deadTimeMs, "dead-time-ms", 0.8, "Injector opening dead time in ms")
	flag.Float64Var(&o.emulateRPM, "emulate-rpm", 0, "Drive the decoder from the built-in emulator at this rpm instead of GPIO")
	flag.DurationVar(&o.poll, "poll", 100*time.Millisecond, "State sampling interval")
	flag.DurationVar(&o.debounce, "debounce", 250*time.Millisecond, "Sync loss debounce duration")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.BoolVar(&o.printWaveform, "print-waveform", false, "Print the trigger waveform and exit")
	flag.BoolVar(&o.printState, "print-state", false, "Print engine state after one second and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func buildConfig(o options) (engine.Config, error) {
	mode, err := waveform.ParseMode(o.mode)
	if err != nil {
		return engine.Config{}, fmt.Errorf("parse mode: %w", err)
	}
	cfg := engine.DefaultConfig()
	cfg.Trigger = engine.TriggerConfig{
		Type:         o.triggerType,
		TotalTeeth:   o.teeth,
		SkippedTeeth: o.skipped,
		Mode:         mode,
		RisingOnly:   o.risingOnly,
	}
	cfg.Dispatch = shaft.Config{
		InvertPrimary:   o.invertCrank,
		InvertSecondary: o.invertSecond,
		InvertCam:       o.invertCam,
	}
	if o.camLine >= 0 {
		cfg.VVT[0][0] = trigger.VVTConfig{
			Mode:   trigger.VVTFirstHalf,
			Edge:   waveform.Rise,
			Offset: o.vvtOffset,
		}
	}
	return cfg, nil
}

func run(o options) error {
	cfg, err := buildConfig(o)
	if err != nil {
		return err
	}

	if o.printWaveform {
		w, err := cfg.Trigger.Build()
		if err != nil {
			return fmt.Errorf("build trigger: %w", err)
		}
		pterm.DefaultHeader.WithFullWidth().Println(w.Name)
		return pterm.DefaultTable.WithHasHeader().WithData(waveformTable(w)).Render()
	}

	timer, err := hwtimer.NewReal()
	if err != nil {
		return fmt.Errorf("init timer: %w", err)
	}
	defer timer.Stop()

	eng, err := engine.New(cfg, timer)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	// Outputs
	if o.tachLine >= 0 {
		out, err := gpio.NewLineOutput(o.chip, o.tachLine)
		if err != nil {
			return fmt.Errorf("init tach output: %w", err)
		}
		defer out.Close()
		if _, err := tach.New(eng, out, tach.Config{
			PulsesPerRev:        o.tachPPR,
			Duration:            0.5,
			DurationAsDutyCycle: true,
		}); err != nil {
			return fmt.Errorf("init tach: %w", err)
		}
	}
	if o.injectorLine >= 0 {
		out, err := gpio.NewLineOutput(o.chip, o.injectorLine)
		if err != nil {
			return fmt.Errorf("init injector output: %w", err)
		}
		defer out.Close()
		inj, err := injection.New(eng, out, injection.LinearModel{DeadTimeMs: o.deadTimeMs}, injection.Config{
			Name:        "injector",
			AngleOffset: o.injectorDeg,
		})
		if err != nil {
			return fmt.Errorf("init injector: %w", err)
		}
		inj.SetFuel(o.fuelMs)
	}

	// Edge source
	source := "gpio"
	if o.emulateRPM > 0 {
		source = "emulator"
		emu, err := emulator.New(eng)
		if err != nil {
			return fmt.Errorf("init emulator: %w", err)
		}
		emu.SetRPM(o.emulateRPM)
		emu.Enable()
		defer emu.Disable()
	} else {
		watcher, err := gpio.NewEdgeWatcher(o.chip, o.crankLine, o.camLine, eng)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer watcher.Close()
	}

	if o.printState {
		time.Sleep(time.Second)
		return pterm.DefaultTable.WithHasHeader().WithData(stateTable(eng.State())).Render()
	}

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(o.broker)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      o.poll.Milliseconds(),
		DebounceMs:  o.debounce.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPPort:    o.httpAddr,
		Trigger:     cfg.Trigger.String(),
		Source:      source,
	})
	tracker.Update(eng.State(), monitor.StateUnsynced, false, monitor.EventCounts{})

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: trigger=%s source=%s poll=%v debounce=%v broker=%s heartbeat=%v",
		cfg.Trigger, source, o.poll, o.debounce, o.broker, o.heartbeat)

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, publisher, publisher, tracker, o.debounce, o.heartbeat, time.Now, ticker.C, sigCh)
}

// stateSource is the engine readout sampled on every tick.
type stateSource interface {
	State() engine.State
}

func updateMQTT(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus == nil {
		return
	}
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	tracker.SetMQTTBacklog(mqttStatus.Backlog())
}

func runLoop(src stateSource, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, debounce, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := monitor.NewDetector(debounce, startTime)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				updateMQTT(tracker, mqttStatus)
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			st := src.State()

			events := detector.Process(monitor.Input{
				Synced:   st.Decoder.Synchronized,
				RPM:      st.Decoder.RPM,
				Warnings: st.Warnings,
				Time:     t,
			})

			for _, event := range events {
				if event.Type == monitor.EventWarning {
					log.Printf("event: %s %s", event.Type, event.Code)
				} else {
					log.Printf("event: %s (rpm=%.0f)", event.Type, event.RPM)
				}
				if err := publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}

			if tracker != nil {
				tracker.Update(st, detector.CurrentState(), detector.IsBaselined(), detector.Counts())
				updateMQTT(tracker, mqttStatus)
			}

			if !detector.IsBaselined() {
				// Still waiting for baseline
				continue
			}

			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v acquired=%d lost=%d warnings=%d",
					hbData.Uptime, hbData.Counts.SyncAcquired, hbData.Counts.SyncLost, hbData.Counts.Warnings)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// waveformTable lists the events of one wheel turn.
func waveformTable(w *waveform.Waveform) pterm.TableData {
	data := pterm.TableData{{"Index", "Channel", "Edge", "Angle", "To next"}}
	for i, ev := range w.Events {
		data = append(data, []string{
			strconv.Itoa(i),
			ev.Channel.String(),
			ev.Edge.String(),
			strconv.FormatFloat(ev.Angle, 'f', 1, 64),
			strconv.FormatFloat(w.ToothAngle(i), 'f', 1, 64),
		})
	}
	return data
}

// stateTable summarizes an engine readout.
func stateTable(st engine.State) pterm.TableData {
	d := st.Decoder
	data := pterm.TableData{
		{"Field", "Value"},
		{"Trigger", st.Trigger},
		{"Synchronized", strconv.FormatBool(d.Synchronized)},
		{"RPM", status.RPMState(d.RPM) + " " + strconv.FormatFloat(d.RPM, 'f', 0, 64)},
		{"Tooth", strconv.Itoa(d.Index)},
		{"Revolutions", strconv.FormatInt(d.Revolutions, 10)},
		{"Sync losses", strconv.FormatUint(uint64(d.SyncLoss), 10)},
		{"Edges", strconv.FormatUint(st.Edges, 10)},
		{"Cam edges", strconv.FormatUint(st.CamEdges, 10)},
		{"Queued events", strconv.Itoa(st.QueueLen)},
	}
	for b := range st.VVT {
		for c := range st.VVT[b] {
			if st.VVTSynced[b][c] {
				data = append(data, []string{
					fmt.Sprintf("VVT bank %d cam %d", b, c),
					strconv.FormatFloat(st.VVT[b][c], 'f', 1, 64),
				})
			}
		}
	}
	for _, c := range st.Warnings {
		data = append(data, []string{"Warning", c.String()})
	}
	return data
}
