// Package cmd contains the cassdl subcommands.
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment variable read by the command
const envPrefix = "CASSDL"

// NewRootCommand builds the cassdl command tree
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "cassdl",
		Short: "cassdl loads balanced, grouped splits of image datasets stored in Cassandra.",
		Long: `cassdl loads balanced, grouped splits of image datasets stored in Cassandra.

It ingests directories of images into a metadata table and a payload table,
plans reproducible train/validation/test splits over the metadata, and
serves shuffled batches of decoded samples from the payload table.

Every flag may also be set in a TOML configuration file, or through an
environment variable named after the flag with a CASSDL_ prefix, dots and
dashes replaced by underscores.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newIngestCommand(stdin, stdout, stderr))
	rc.AddCommand(newPlanCommand(stdin, stdout, stderr))
	rc.AddCommand(newLoopCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig applies configuration to every flag of flags that was not set on the command
// line, from the environment first and then from the configuration file named by the config
// flag. Keys of the configuration file must name flags.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		var value string
		if strings.HasSuffix(f.Value.Type(), "Slice") {
			// slices from a configuration file arrive as lists, and from the
			// environment as a single comma separated string
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("invalid value for %s: %v", f.Name, err)
		}
	})
	return flagErr
}
