package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/cronner/app/recorder"
	"github.com/umputun/cronner/app/store"
)

// JobRef selects a job by id or by command
type JobRef struct {
	ID      string `long:"id" description:"job id"`
	Command string `long:"command" description:"job command, id is derived from it if --id not set"`
}

type options struct {
	DB          string        `short:"d" long:"db" env:"CRONNER_DB" default:"cronner.db" description:"job cache file"`
	BusyTimeout time.Duration `long:"busy-timeout" env:"CRONNER_BUSY_TIMEOUT" default:"0s" description:"wait for locked cache, 0 to fail immediately"`
	NoFK        bool          `long:"no-fk" env:"CRONNER_NO_FK" description:"don't enforce history to jobs reference"`
	Dbg         bool          `long:"dbg" env:"CRONNER_DEBUG" description:"debug mode"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Filename        string `long:"filename" env:"FILENAME" description:"file to write logs to, stderr if empty"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes before rotation"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"maximum number of days to retain old log files"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"CRONNER_LOG"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to try a failed write"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"100ms" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"CRONNER_REPEATER"`

	Register struct {
		JobRef
		Desc string  `long:"desc" description:"job description, command if not set"`
		Next float64 `long:"next" description:"next run, seconds since epoch"`
	} `command:"register" description:"add job to the cache if not known yet"`

	Record struct {
		JobRef
		Desc   string  `long:"desc" description:"job description, stored one if not set"`
		Time   float64 `long:"time" description:"run time, seconds since epoch, now if not set"`
		Result int     `long:"result" required:"true" description:"run result (exit code)"`
		Next   float64 `long:"next" description:"next run, seconds since epoch"`
	} `command:"record" description:"record finished run of a job"`

	Show struct {
		Args struct {
			ID string `positional-arg-name:"id" required:"true"`
		} `positional-args:"yes"`
	} `command:"show" description:"show cached job"`

	History struct {
		Args struct {
			ID string `positional-arg-name:"id" required:"true"`
		} `positional-args:"yes"`
	} `command:"history" description:"show run history of a job"`

	List struct{} `command:"list" description:"list all cached jobs"`
}

var revision = "unknown"

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	setupLogs(opts)
	log.Printf("[DEBUG] cronner %s", revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p.Active.Name, opts, os.Stdout); err != nil {
		log.Printf("[WARN] %s failed, %v", p.Active.Name, err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run opens the cache and executes the command, results written to out as yaml
func run(ctx context.Context, cmd string, opts options, out io.Writer) (err error) {
	st, err := store.Open(ctx, opts.DB, store.Options{BusyTimeout: opts.BusyTimeout, NoForeignKeys: opts.NoFK})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	rec := recorder.Recorder{
		Store: st,
		Repeater: repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
			Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter}),
	}

	switch cmd {
	case "register":
		id, e := opts.Register.JobRef.id()
		if e != nil {
			return e
		}
		desc := opts.Register.Desc
		if desc == "" {
			desc = opts.Register.Command
		}
		created, e := rec.Register(ctx, store.Job{ID: id, Description: desc, NextRun: optional(opts.Register.Next)})
		if e != nil {
			return e
		}
		log.Printf("[INFO] job %s registered: %v", id, created)
		return printYAML(out, map[string]any{"id": id, "created": created})

	case "record":
		id, e := opts.Record.JobRef.id()
		if e != nil {
			return e
		}
		ts := opts.Record.Time
		if ts == 0 {
			ts = store.Epoch(time.Now())
		}
		desc := opts.Record.Desc
		if desc == "" && opts.Record.ID == "" {
			desc = opts.Record.Command
		}
		runInfo := recorder.Run{ID: id, Description: desc, Time: ts, NextRun: optional(opts.Record.Next), Result: opts.Record.Result}
		if e = rec.Complete(ctx, runInfo); e != nil {
			return e
		}
		log.Printf("[INFO] run of %s recorded, result %d", id, opts.Record.Result)
		job, e := st.Get(ctx, id)
		if e != nil {
			return e
		}
		return printYAML(out, job)

	case "show":
		job, e := st.Get(ctx, opts.Show.Args.ID)
		if e != nil {
			return e
		}
		return printYAML(out, job)

	case "history":
		if _, e := st.Get(ctx, opts.History.Args.ID); e != nil {
			return e
		}
		hist, e := st.History(ctx, opts.History.Args.ID)
		if e != nil {
			return e
		}
		return printYAML(out, hist)

	case "list":
		jobs, e := st.Jobs(ctx)
		if e != nil {
			return e
		}
		return printYAML(out, jobs)
	}

	return fmt.Errorf("unknown command %q", cmd)
}

func (r JobRef) id() (string, error) {
	switch {
	case r.ID != "":
		return r.ID, nil
	case r.Command != "":
		return recorder.JobID(r.Command), nil
	}
	return "", errors.New("either --id or --command required")
}

// optional returns nil for unset (zero) timestamp
func optional(ts float64) *float64 {
	if ts == 0 {
		return nil
	}
	return &ts
}

func printYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("can't encode result: %w", err)
	}
	return enc.Close()
}

// setupLogs configures lgr and returns the writer logs go to
func setupLogs(opts options) io.Writer {
	if !opts.Log.Enabled && !opts.Dbg {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return io.Discard
	}

	var out io.Writer = os.Stderr
	if opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return out
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
	return out
}
