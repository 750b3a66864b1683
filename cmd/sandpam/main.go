// Program sandpam checks passwords through an isolated sandpam worker.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/sandpam"
	"github.com/creachadair/sandpam/backend"
	"github.com/creachadair/sandpam/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var rootFlags struct {
	Debug bool `flag:"debug,Enable debug logging"`
}

var workerFlags struct {
	DB          string `flag:"db,Credential database (TOML)"`
	Concurrency int    `flag:"concurrency,Maximum concurrent requests (0 means number of CPUs)"`
}

var checkFlags struct {
	DB       string `flag:"db,Credential database (TOML)"`
	Service  string `flag:"service,default=other,Service name to authenticate for"`
	User     string `flag:"user,User name to authenticate"`
	RemoteIP string `flag:"remote-ip,Remote address of the client, if any"`
}

var hashFlags struct {
	Scheme string `flag:"scheme,default=sha512,Hash scheme (sha512, sha256, md5)"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Check passwords through an isolated authentication worker.",
		SetFlags: command.Flags(flax.MustBind, &rootFlags),
		Commands: []*command.C{
			{
				Name:  "check",
				Usage: "-user name -db file [-service name] [-remote-ip addr] < password",
				Help: `Authenticate a user through a worker process.

The password is read from the first line of standard input. The worker is
started as a separate process using the credentials in the -db file, and
is shut down once the check completes.

The exit status is 0 if authentication succeeded, 2 if the worker rejected
the attempt, and 1 for any other error.`,
				SetFlags: command.Flags(flax.MustBind, &checkFlags),
				Run:      runCheck,
			},
			{
				Name:  "worker",
				Usage: "-db file [-concurrency n]",
				Help: `Run as an authentication worker.

This command is started by "check" and expects to inherit its socket from
the parent process. It is not useful to run it directly.`,
				SetFlags: command.Flags(flax.MustBind, &workerFlags),
				Run:      runWorker,
			},
			{
				Name:  "hash",
				Usage: "[-scheme name] < password",
				Help: `Print a crypt(3) hash of a password for a credential database.

The password is read from the first line of standard input.`,
				SetFlags: command.Flags(flax.MustBind, &hashFlags),
				Run:      runHash,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func initLogger(app string) {
	level := zerolog.InfoLevel
	if rootFlags.Debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Str("app", app).Logger()
}

func runWorker(env *command.Env) error {
	initLogger("worker")
	if workerFlags.DB == "" {
		return env.Usagef("missing -db")
	}
	db, err := backend.LoadDB(workerFlags.DB)
	if err != nil {
		return err
	}
	log.Debug().Str("db", workerFlags.DB).Int("users", db.Len()).Msg("loaded credentials")
	return worker.Run(env.Context(), backend.NewMux().Handle("", db), &worker.Options{
		Concurrency: workerFlags.Concurrency,
	})
}

func runCheck(env *command.Env) error {
	initLogger("check")
	if checkFlags.User == "" {
		return env.Usagef("missing -user")
	} else if checkFlags.DB == "" {
		return env.Usagef("missing -db")
	}
	db, err := filepath.Abs(checkFlags.DB)
	if err != nil {
		return err
	}
	pass, err := readLine()
	if err != nil {
		return err
	}

	var args []string
	if rootFlags.Debug {
		args = append(args, "-debug")
	}
	args = append(args, "worker", "-db", db)
	p, err := worker.Start(&worker.StartOptions{Args: args, Concurrency: 1})
	if err != nil {
		return err
	}
	log.Debug().Int("pid", p.Pid()).Msg("started worker")

	aerr := p.Authenticate(env.Context(), checkFlags.Service, checkFlags.User, pass, checkFlags.RemoteIP)
	if err := p.Close(); err != nil {
		log.Warn().Err(err).Msg("stopping worker")
	}

	var ae *sandpam.AuthError
	if aerr == nil {
		fmt.Println("OK")
		return nil
	} else if errors.As(aerr, &ae) && !ae.Code.Local() {
		fmt.Printf("DENIED %s\n", ae)
		os.Exit(2)
	}
	return fmt.Errorf("check %q: %w", checkFlags.User, aerr)
}

func runHash(env *command.Env) error {
	pass, err := readLine()
	if err != nil {
		return err
	}
	h, err := backend.Hash(pass, hashFlags.Scheme)
	if err != nil {
		return err
	}
	fmt.Println(strconv.Quote(h))
	return nil
}

// readLine reads the first line of standard input, without its terminator.
func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
