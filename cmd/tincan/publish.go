package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/tincan"
)

func newPublishCmd(flags *rootFlags) *cobra.Command {
	var (
		object string
		change string
		data   string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one change event to every registered receiver",
		Example: `  tincan publish --object Widget --change create --data '{"id":7}'`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := tincan.ParseChangeType(change)
			if err != nil {
				return err
			}
			raw, err := rawJSON(data)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flags.configFile, flags.envFile)
			if err != nil {
				return err
			}
			logger := newLogger(flags.verbose)

			sender, err := tincan.NewBuilder().
				WithStore(cfg.Store, cfg.storeConfig()).
				WithNamespace(cfg.Namespace).
				WithMessageTTL(cfg.MessageTTL).
				WithLogger(logger).
				BuildSender()
			if err != nil {
				return err
			}
			defer func() { _ = sender.Close(context.Background()) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := sender.PublishObject(ctx, object, ct, raw); err != nil {
				return err
			}
			m := sender.GetMetrics()
			logger.Info().Str("object", object).Str("change", ct.String()).
				Str("published", strconv.FormatUint(m.Published, 10)).
				Msg("published")
			return nil
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "object name, e.g. Widget (channel is its lower-case form)")
	cmd.Flags().StringVar(&change, "change", "", "change type: create, modify or delete")
	cmd.Flags().StringVar(&data, "data", "", "object data as JSON")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("change")
	return cmd
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}
