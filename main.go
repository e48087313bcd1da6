package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duochat/duochat/account"
	"github.com/duochat/duochat/archive"
	"github.com/duochat/duochat/auth"
	"github.com/duochat/duochat/store"
	"github.com/duochat/duochat/web"
	"github.com/duochat/duochat/ws"
)

const (
	kafkaTopic        = "duochat-messages"
	archiveBufferSize = 256
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile  = flag.String("pid-file", "duochat.pid", "pid file")
	flagDocStore = flag.String("doc-store", "bolt", "document store backend: bolt or file")
	flagDataDir  = flag.String("data-dir", "data", "dir for the document store")

	flagMysqlDsn = flag.String("mysql-dsn", "", "optional mysql dsn; when set, messages are stored in mysql instead of the document")

	flagKafkaBrokers  = flag.String("kafka-brokers", "127.0.0.1:9092", "comma separated kafka brokers")
	flagEnableArchive = flag.Bool("enable-archive", false, "stream stored messages to kafka")

	flagUploadsDir = flag.String("uploads-dir", "public/uploads", "dir to save uploaded attachments")
	flagStaticDir  = flag.String("static-dir", "", "optional dir to serve the web client from")

	flagMaxContentBytes = flag.Int("max-content-bytes", ws.MaxContentBytes, "max message content size in bytes")
	flagWsAuth          = flag.Bool("ws-auth", false, "require the x-uid cookie on websocket upgrade")
	flagDisableMetrics  = flag.Bool("disable-metrics", false, "disable prometheus metrics")
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

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	var docs store.IDocStore
	switch *flagDocStore {
	case "bolt":
		s, err := store.OpenBoltStore(filepath.Join(*flagDataDir, "duochat.db"))
		if err != nil {
			return errorf("open bolt store: %v", err)
		}
		docs = s
	case "file":
		docs = store.NewFileStore(filepath.Join(*flagDataDir, "db.json"))
	}
	defer func() {
		if err := docs.Close(); err != nil {
			glog.Errorf("close document store: %v", err)
		}
	}()

	var db *sql.DB
	var msgs store.IMessageStore
	if *flagMysqlDsn != "" {
		var err error
		db, err = sql.Open("mysql", *flagMysqlDsn)
		if err != nil {
			return errorf("sql.Open error, dsn: %s, err: %v", *flagMysqlDsn, err)
		}
		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(1)
		msgs = store.NewSQLMessageStore(db)
	} else {
		msgs = store.NewMessageStore(docs)
	}

	glog.Info("duochat server is starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiver *archive.Archiver
	var archiveC chan<- *store.Message
	archiveStopC := make(chan struct{})
	if *flagEnableArchive {
		brokers := strings.Split(*flagKafkaBrokers, ",")
		archiver = archive.NewArchiver(archive.NewWriter(brokers, kafkaTopic), archiveBufferSize)
		archiveC = archiver.In()
		go archiver.Run(ctx, archiveStopC)
	}

	var authClient auth.Client
	if *flagWsAuth {
		authClient = &auth.MockClient{}
	}

	accounts := account.NewStore(docs)
	api := ws.NewApi(msgs, *flagMaxContentBytes)
	hub := ws.NewHub(api, authClient, archiveC)

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)

	web.NewServer(accounts, msgs, *flagUploadsDir).Register(mux)

	const uploadsRootPath = "/uploads/"
	mux.Handle(uploadsRootPath, http.StripPrefix(uploadsRootPath,
		http.FileServer(http.Dir(*flagUploadsDir))))
	if *flagStaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(*flagStaticDir)))
	}

	httpServer := &http.Server{Addr: *flagAddr, Handler: mux}
	go func() {
		glog.Infof("http server is listening %v", *flagAddr)
		if err := httpServer.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
		} else if err != nil {
			glog.Errorf("error serve http mux server: %v", err)
		}
	}()

	glog.Infof("`kill -USR1 %d` to dump goroutines; `CTRL+c` or `kill %d` to graceful stop", pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines()
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("duochat server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				hub.Shutdown()
				if err := httpServer.Shutdown(context.Background()); err != nil {
					glog.Errorf("http server shutdown: %v", err)
				}
				cancel()
				if archiver != nil {
					<-archiveStopC
				}
				if db != nil {
					_ = db.Close()
				}
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("duochat server exited")
	return 0
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagDataDir == "" {
		return errorf("--data-dir is required")
	}
	if *flagUploadsDir == "" {
		return errorf("--uploads-dir is required")
	}

	switch *flagDocStore {
	case "bolt", "file":
	default:
		return errorf("--doc-store MUST be `bolt` or `file`")
	}

	if *flagMaxContentBytes < ws.MinContentBytes || *flagMaxContentBytes > ws.MaxContentBytes {
		return errorf("invalid --max-content-bytes, expect in range [%d, %d]",
			ws.MinContentBytes, ws.MaxContentBytes)
	}

	if *flagEnableArchive && len(*flagKafkaBrokers) == 0 {
		return errorf("--kafka-brokers is required with --enable-archive")
	}

	if *flagStaticDir != "" {
		if _, err := os.Stat(*flagStaticDir); err != nil {
			return errorf("error stat static dir `%s`: %v", *flagStaticDir, err)
		}
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// See if we have a stale pid file here.
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
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	return nil
}
