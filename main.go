package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// connState tracks one accepted connection until it resolves to
// being a local user or a local peer server, and holds whichever
// union member applies afterward. A connection reaching us is
// assumed to be a user until its first line proves otherwise (a
// PASS ... TS 6 or SERVER handshake line flips it to a peer).
type connState struct {
	LC *LocalClient
	LU *LocalUser
	LS *LocalServer
}

func (cs *connState) handleLine(cb *Catbox, line string) {
	if cs.LS != nil {
		cs.LS.handleLine(cb, line)
		return
	}
	if cs.LU.User == nil && looksLikeServerHandshake(line) {
		cs.LS = NewLocalServer(cs.LC)
		cs.LU = nil
		cs.LS.handleLine(cb, line)
		return
	}
	cs.LU.handleLine(cb, line)
}

func looksLikeServerHandshake(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return false
	}
	cmd := strings.ToUpper(fields[0])
	if cmd == "SERVER" {
		return true
	}
	return cmd == "PASS" && strings.ToUpper(fields[2]) == "TS"
}

func main() {
	args := getArgs()
	if args == nil {
		os.Exit(2)
	}

	config, err := readConfig(args.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %s\n", err) // nolint: gas
		os.Exit(2)
	}
	if args.ServerName != "" {
		config.ServerName = args.ServerName
	}
	if args.SID != "" {
		config.TS6SID = args.SID
	}

	cb := NewCatbox(config)
	cb.ConfigPath = args.ConfigFile
	cb.Logger.SetLevel(logrus.InfoLevel)

	ln, err := net.Listen("tcp", net.JoinHostPort(config.ListenHost, config.ListenPort))
	if err != nil {
		cb.Logger.WithError(err).Error("unable to listen")
		os.Exit(1)
	}
	cb.Listener = ln

	cb.serveMetrics(config.MetricsAddr)

	go cb.acceptLoop()
	go cb.signalLoop()
	go cb.alarmLoop()

	cb.run()
}

// acceptLoop accepts connections and posts EventNewClient onto the
// dispatch queue. It never touches shared Catbox tables directly.
func (cb *Catbox) acceptLoop() {
	for {
		conn, err := cb.Listener.Accept()
		if err != nil {
			if cb.isShuttingDown() {
				return
			}
			cb.Logger.WithError(err).Warn("accept error")
			continue
		}

		wrapped, err := NewConn(conn, cb.Config.DeadTime, cb.Logger)
		if err != nil {
			_ = conn.Close()
			continue
		}

		lc := NewLocalClient(cb, wrapped)
		cb.newEvent(Event{Type: EventNewClient, Client: lc})

		go lc.readLoop(func(line string) {
			cb.newEvent(Event{Type: EventClientMessage, Client: lc, Line: line})
		})
		go lc.writeLoop()
	}
}

// connectToServer dials an outbound peer link and hands the
// connection to the dispatch goroutine, which sends our handshake
// intro when it first sees it.
func (cb *Catbox) connectToServer(host, port, pass string) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		cb.Logger.WithError(err).WithField("host", host).Warn("outbound connect failed")
		return
	}
	wrapped, err := NewConn(conn, cb.Config.DeadTime, cb.Logger)
	if err != nil {
		_ = conn.Close()
		return
	}

	lc := NewLocalClient(cb, wrapped)
	lc.OutboundServer = true
	lc.OutboundPass = pass
	cb.newEvent(Event{Type: EventNewClient, Client: lc})

	go lc.readLoop(func(line string) {
		cb.newEvent(Event{Type: EventClientMessage, Client: lc, Line: line})
	})
	go lc.writeLoop()
}

// signalLoop translates SIGHUP/SIGINT/SIGTERM into dispatch events.
func (cb *Catbox) signalLoop() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range ch {
		cb.Logger.WithField("signal", sig).Info("received signal")
		if sig == syscall.SIGHUP {
			continue
		}
		cb.newEvent(Event{Type: EventShutdown})
		return
	}
}

// alarmLoop wakes the dispatch goroutine on a fixed interval so it
// can check for idle/dead clients, sweep K-Lines, and refresh gauge
// metrics, bounded by the configured WakeupTime.
func (cb *Catbox) alarmLoop() {
	interval := cb.Config.WakeupTime
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cb.newEvent(Event{Type: EventAlarm})
		case <-cb.ShutdownChan:
			return
		}
	}
}

// run is the single dispatch goroutine: it is the only goroutine
// that ever reads or writes cb's shared tables. Every other
// goroutine communicates with it exclusively through EventChan.
func (cb *Catbox) run() {
	for event := range cb.EventChan {
		switch event.Type {
		case EventNewClient:
			cb.handleNewClient(event.Client)
		case EventClientMessage:
			cb.handleClientMessage(event.Client, event.Line)
		case EventClientDead:
			cb.handleClientDead(event.Client, event.Err)
		case EventAlarm:
			cb.handleAlarm()
		case EventShutdown:
			cb.handleShutdown()
			return
		}
	}
}

func (cb *Catbox) handleNewClient(lc *LocalClient) {
	cb.Stats.Accepts++
	cb.Metrics.connectionsAccepted.Inc()

	if _, banned := matchesAnyZLine(cb, lc.Hostname); banned {
		lc.quit("You are banned from this server")
		cb.Stats.Refused++
		cb.Metrics.connectionsRefused.Inc()
		return
	}
	if _, banned := matchesAnyKLine(cb, "*@"+lc.Hostname); banned {
		lc.quit("You are banned from this server")
		cb.Stats.Refused++
		cb.Metrics.connectionsRefused.Inc()
		return
	}

	cs := &connState{LC: lc}
	if lc.OutboundServer {
		cs.LS = NewLocalServer(lc)
		cs.LS.sendServerIntro(lc.OutboundPass)
		cs.LS.sendSVINFO()
	} else {
		cs.LU = NewLocalUser(lc)
	}
	cb.Conns[lc.ID] = cs
}

func (cb *Catbox) handleClientMessage(lc *LocalClient, line string) {
	cs, ok := cb.Conns[lc.ID]
	if !ok {
		return
	}
	if cb.Modules.runRawSocketRead(cb, lc, line) == Halt {
		return
	}
	cb.Metrics.commandsDispatched.Inc()
	cs.handleLine(cb, line)
}

func (cb *Catbox) handleClientDead(lc *LocalClient, err error) {
	cs, ok := cb.Conns[lc.ID]
	if !ok {
		return
	}
	delete(cb.Conns, lc.ID)

	lc.quit("connection lost")

	switch {
	case cs.LU != nil && cs.LU.User != nil:
		quitUser(cb, cs.LU.User, "Connection reset")
		cb.sendToAll(fmt.Sprintf(":%s QUIT :%s", cs.LU.User.UID, "Connection reset"))
	case cs.LS != nil && cs.LS.Server != nil:
		serverSplitCleanUp(cb, cs.LS, "connection lost")
	}
}

// handleAlarm pings idle clients, drops dead ones, and refreshes
// metrics gauges. It runs entirely on the dispatch goroutine so it
// never races with command handling.
func (cb *Catbox) handleAlarm() {
	now := time.Now()
	for _, cs := range cb.Conns {
		switch {
		case cs.LU != nil:
			if cs.LU.SendQueueExceeded {
				cs.LU.quit("Excess Flood")
				continue
			}
			if cs.LU.User == nil && cb.Config.RegistrationTimeout > 0 &&
				now.Sub(cs.LU.ConnectionStartTime) > cb.Config.RegistrationTimeout {
				cs.LU.quit("Registration timeout")
				continue
			}
			idle := now.Sub(cs.LU.LastActivityTime)
			if idle > cb.Config.DeadTime {
				cs.LU.quit("Ping timeout")
				continue
			}
			if idle > cb.Config.PingTime && now.Sub(cs.LU.LastPingTime) > cb.Config.PingTime {
				cs.LU.LastPingTime = now
				cs.LU.maybeQueueMessage(fmt.Sprintf("PING :%s", cb.Config.ServerName))
			}
		case cs.LS != nil:
			if cs.LS.SendQueueExceeded {
				cs.LS.quit("Excess Flood")
				continue
			}
			if now.Sub(cs.LS.LastActivityTime) > cb.Config.DeadTime {
				cs.LS.quit("Ping timeout")
			}
		}
	}
	cb.sampleGauges()
}

func (cb *Catbox) handleShutdown() {
	cb.Logger.Info("shutting down")
	for _, cs := range cb.Conns {
		cs.LC.quit("Server shutting down")
	}
	cb.shutdown()
}
