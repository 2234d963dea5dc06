package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/winfeed/winchat/api"
	"github.com/winfeed/winchat/auth"
	"github.com/winfeed/winchat/chat"
	"github.com/winfeed/winchat/store"
	"github.com/winfeed/winchat/transport"
)

var (
	flagBackend      = flag.String("backend", "http://127.0.0.1:8000", "backend base URL")
	flagSocket       = flag.String("socket", "", "websocket endpoint, default derived from --backend")
	flagUsername     = flag.String("username", "", "login username, required unless credentials are cached")
	flagPassword     = flag.String("password", "", "login password")
	flagPeer         = flag.String("peer", "", "peer username to chat with")
	flagTransport    = flag.String("transport", "ws", "transport variant: ws or poll")
	flagPollInterval = flag.Duration("poll-interval", transport.DefaultPollInterval, "poll transport interval")
	flagDBFile       = flag.String("db-file", "winchat.db", "local cache file (credentials, message history)")
	flagMetricsAddr  = flag.String("metrics-addr", "", "expose prometheus metrics on this address, empty to disable")
	flagPprofDir     = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagPidFile      = flag.String("pid-file", "winchat.pid", "pid file")
	flagLogout       = flag.Bool("logout", false, "clear cached credentials and exit")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	if err := os.MkdirAll(*flagPprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", *flagPprofDir, err)
	}

	if err := savePid(*flagPidFile, os.Getpid()); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	local, err := store.Open(*flagDBFile)
	if err != nil {
		return errorf("open local store: %v", err)
	}
	defer local.Close()

	interceptor, err := auth.NewInterceptor(*flagBackend, local, nil)
	if err != nil {
		return errorf("init interceptor: %v", err)
	}

	if *flagLogout {
		if err := interceptor.Logout(); err != nil {
			return errorf("logout: %v", err)
		}
		fmt.Println("logged out")
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !interceptor.LoggedIn() {
		if *flagUsername == "" || *flagPassword == "" {
			return errorf("no cached credentials; --username and --password are required")
		}
		if err := interceptor.Login(ctx, *flagUsername, *flagPassword); err != nil {
			return errorf("login: %v", err)
		}
	}

	if *flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics listener: %v", err)
			}
		}()
	}

	client := api.NewClient(interceptor)

	var tr transport.Transport
	switch *flagTransport {
	case "ws":
		tr = transport.NewWebsocket(socketEndpoint(), nil)
	case "poll":
		tr = transport.NewPoller(transport.PollerConfig{
			Client:   client,
			Interval: *flagPollInterval,
		})
	}

	session, err := chat.NewSession(chat.SessionConfig{
		Client:    client,
		Transport: tr,
		History:   local,
	})
	if err != nil {
		return errorf("init session: %v", err)
	}
	defer session.Close()

	conv, err := session.Open(ctx, *flagPeer)
	if err != nil {
		if errors.Is(err, auth.ErrAuthRequired) || errors.Is(err, auth.ErrAuthInvalid) {
			return errorf("session expired, log in again: %v", err)
		}
		return errorf("open conversation with %s: %v", *flagPeer, err)
	}
	fmt.Printf("chatting with %s (connection %s), ctrl+c to quit\n", conv.PeerUsername, conv.ConnectionID)

	if err := session.MarkRead(ctx); err != nil {
		glog.Errorf("mark read: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	// Re-render from session state; the transport feeds the session
	// from its own goroutines.
	renderTicker := time.NewTicker(300 * time.Millisecond)
	defer renderTicker.Stop()
	printed := 0
	var lastFailed string

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				dumpGoroutines(*flagPprofDir)
				continue
			case syscall.SIGUSR2:
				if prof == nil {
					prof = StartProfiler(*flagPprofDir)
				} else {
					prof.Stop()
					prof = nil
				}
				continue
			}
			glog.Infof("received signal `%s`, stopping", sig.String())
			if prof != nil {
				prof.Stop()
			}
			return 0
		case <-renderTicker.C:
			printed = render(session, printed)
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if strings.TrimSpace(line) == "/retry" {
				if lastFailed == "" {
					fmt.Println("nothing to retry")
					continue
				}
				if err := session.Resend(ctx, lastFailed); err != nil {
					fmt.Printf("retry failed: %v\n", err)
				} else {
					lastFailed = ""
				}
				continue
			}
			if _, err := session.Send(ctx, line); err != nil {
				if errors.Is(err, chat.ErrEmptyMessage) {
					continue
				}
				var sendErr *chat.SendError
				if errors.As(err, &sendErr) {
					lastFailed = sendErr.LocalID
					fmt.Printf("send failed (%v), type /retry to resend\n", sendErr.Err)
					continue
				}
				if errors.Is(err, auth.ErrAuthRequired) || errors.Is(err, auth.ErrAuthInvalid) {
					return errorf("session expired, log in again")
				}
				fmt.Printf("send error: %v\n", err)
			}
		}
	}
}

// render prints messages appended since the last call and returns the
// new count.
func render(session *chat.Session, printed int) int {
	msgs := session.Messages()
	for ; printed < len(msgs); printed++ {
		m := msgs[printed]
		who := m.SenderID
		if m.Mine {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s (%s)\n", m.SentAt.Format("15:04:05"), who, m.Text, m.State)
	}
	return printed
}

// socketEndpoint derives the websocket URL from --backend unless
// --socket overrides it.
func socketEndpoint() string {
	if *flagSocket != "" {
		return *flagSocket
	}
	u, _ := url.Parse(*flagBackend)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func validateFlags() int {
	if *flagBackend == "" {
		return errorf("--backend is required")
	}
	if u, err := url.Parse(*flagBackend); err != nil || u.Host == "" {
		return errorf("--backend: invalid URL `%s`", *flagBackend)
	}
	if *flagDBFile == "" {
		return errorf("--db-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagLogout {
		return 0
	}
	if *flagPeer == "" {
		return errorf("--peer is required")
	}
	switch *flagTransport {
	case "ws", "poll":
	default:
		return errorf("--transport MUST be `ws` or `poll`")
	}
	if *flagPollInterval < 500*time.Millisecond {
		return errorf("--poll-interval MUST be at least 500ms")
	}
	return 0
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// An existing pid file may be left over from a crashed run;
		// refuse only if that process is still alive.
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			} else {
				glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	return nil
}
