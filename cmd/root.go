package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Dominik1799/zm-mailbox/config"
	"github.com/Dominik1799/zm-mailbox/internal/logger"
	"github.com/Dominik1799/zm-mailbox/server"
)

func init() {
	flags := rootCmd.PersistentFlags()

	// Generate one flag per config field from its struct tags so the flag
	// surface and the YAML surface never drift apart.
	c := config.MailboxConfig{}
	_type := reflect.TypeOf(c)
	for i := 0; i < _type.NumField(); i++ {
		field := _type.Field(i)
		yamlTag := field.Tag.Get("mapstructure")
		descriptionTag := field.Tag.Get("description")
		defaultTag := field.Tag.Get("default")

		switch field.Type.Kind() {
		case reflect.String:
			flags.String(yamlTag, defaultTag, descriptionTag)
		case reflect.Int:
			val, _ := strconv.Atoi(defaultTag)
			flags.Int(yamlTag, val, descriptionTag)
		case reflect.Bool:
			val, _ := strconv.ParseBool(defaultTag)
			flags.Bool(yamlTag, val, descriptionTag)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "zmailbox",
	Short: "zm-mailbox - clustered mailbox server node",
	Run: func(cmd *cobra.Command, args []string) {
		config.Load(cmd.Flags())
		slog.SetDefault(logger.New())
		server.Start()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
