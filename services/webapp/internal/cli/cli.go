package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/grigta/webportal/pkg/config"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/services/webapp/internal/repository"
)

// Ops is the part of the data-access layer dbctl drives.
type Ops interface {
	Rename(ctx context.Context, oldName, newName string) (repository.RenameResult, error)
	Count(ctx context.Context, collection string, condition bson.M) (int64, error)
	SortedRead(ctx context.Context, collection string, condition bson.M, sort []repository.SortField) ([]bson.M, error)
}

// Env is what a command runs against. Close releases whatever Open acquired.
type Env struct {
	Ops           Ops
	EnsureIndexes func(ctx context.Context) error
	TailEvents    func(ctx context.Context, queue string, handler func([]byte) error) error
	Close         func()
}

// Opener connects to the backing services for one command run.
type Opener func(ctx context.Context, cfg *config.Config) (*Env, error)

type options struct {
	configDir string
	filter    string
	sort      string
	output    string
	queue     string
}

func NewRootCommand(open Opener) *cobra.Command {
	opts := &options{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "dbctl",
		Short:         "Maintenance commands for the webportal database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig(opts.configDir)
			if err != nil {
				return err
			}
			cfg = loaded
			logger.SetDefault(logger.NewWithOutput(cfg.App.LogLevel, cfg.App.LogFormat, cmd.ErrOrStderr()))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", "./config", "directory containing config.yaml")

	withEnv := func(run func(cmd *cobra.Command, args []string, env *Env) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			env, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer env.Close()
			return run(cmd, args, env)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "rename OLD NEW",
		Short: "Move every document of OLD into NEW, replacing NEW's contents",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			res, err := env.Ops.Rename(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.OK != 1 {
				return fmt.Errorf("rename %s -> %s failed", args[0], args[1])
			}
			return nil
		}),
	})

	count := &cobra.Command{
		Use:   "count COLLECTION",
		Short: "Count documents matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			cond, err := ParseFilter(opts.filter)
			if err != nil {
				return err
			}
			n, err := env.Ops.Count(cmd.Context(), args[0], cond)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		}),
	}
	count.Flags().StringVar(&opts.filter, "filter", "", "extended JSON filter")
	root.AddCommand(count)

	read := &cobra.Command{
		Use:   "read COLLECTION",
		Short: "Print documents matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			cond, err := ParseFilter(opts.filter)
			if err != nil {
				return err
			}
			sort, err := ParseSort(opts.sort)
			if err != nil {
				return err
			}
			docs, err := env.Ops.SortedRead(cmd.Context(), args[0], cond, sort)
			if err != nil {
				return err
			}
			return WriteDocs(cmd.OutOrStdout(), docs, opts.output)
		}),
	}
	read.Flags().StringVar(&opts.filter, "filter", "", "extended JSON filter")
	read.Flags().StringVar(&opts.sort, "sort", "", "sort order, e.g. priority:-1,name:1")
	read.Flags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	root.AddCommand(read)

	root.AddCommand(&cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the indexes declared by every registered collection",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			if err := env.EnsureIndexes(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "indexes ensured")
			return err
		}),
	})

	tail := &cobra.Command{
		Use:   "events",
		Short: "Print document change events as they arrive",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, env *Env) error {
			if env.TailEvents == nil {
				return fmt.Errorf("events are disabled, set RABBITMQ_ENABLED=true")
			}
			out := cmd.OutOrStdout()
			if err := env.TailEvents(cmd.Context(), opts.queue, func(body []byte) error {
				_, err := fmt.Fprintln(out, string(body))
				return err
			}); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		}),
	}
	tail.Flags().StringVar(&opts.queue, "queue", "dbctl.events", "queue to bind to the events exchange")
	root.AddCommand(tail)

	return root
}

// ParseFilter reads a relaxed extended JSON document. An empty string matches everything.
func ParseFilter(s string) (bson.M, error) {
	cond := bson.M{}
	if strings.TrimSpace(s) == "" {
		return cond, nil
	}
	if err := bson.UnmarshalExtJSON([]byte(s), false, &cond); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return cond, nil
}

// ParseSort reads "field:dir" pairs separated by commas. A bare field sorts ascending.
func ParseSort(s string) ([]repository.SortField, error) {
	var fields []repository.SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, dir, found := strings.Cut(part, ":")
		direction := 1
		if found {
			d, err := strconv.Atoi(dir)
			if err != nil {
				return nil, fmt.Errorf("invalid sort direction %q for %s", dir, name)
			}
			direction = d
		}
		fields = append(fields, repository.SortField{Field: name, Direction: direction})
	}
	return fields, nil
}

func WriteDocs(w io.Writer, docs []bson.M, format string) error {
	plain := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return err
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		plain = append(plain, v)
	}

	switch format {
	case "json", "":
		return writeJSON(w, plain)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
