/*
Copyright © 2019 the watershed authors.
This file is part of watershed.

watershed is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

watershed is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with watershed.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package wsutil contains the command-line interface for the watershed
// metadata tools.
package wsutil

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/watershed"
	"github.com/spatialmodel/watershed/cloud"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableSorting:  true,
	})

	// Options are the configuration options available to the watershed
	// commands.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel is the minimum level of log messages to print:
              one of debug, info, warn, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.URL",
			usage: `
              Connection.URL is the base URL of the data repository.`,
			defaultVal: "https://vwp-dev.unm.edu",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.User",
			usage: `
              Connection.User is the repository user name.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.Password",
			usage: `
              Connection.Password is the repository password. It is best
              set with the WATERSHED_CONNECTION_PASSWORD environment variable.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.Timeout",
			usage: `
              Connection.Timeout limits the duration of each request
              to the repository.`,
			defaultVal: "60s",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.MaxRetries",
			usage: `
              Connection.MaxRetries is the number of times requests that fail
              with transient errors are retried. Negative values disable retries.`,
			defaultVal: cloud.DefaultMaxRetries,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Connection.SettleTimeout",
			usage: `
              Connection.SettleTimeout is how long to wait for inserted
              datasets to become searchable.`,
			defaultVal: "10s",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ObjectStore.Bucket",
			usage: `
              ObjectStore.Bucket is the location of the object storage tier
              in the format provider://name, where provider is file, gs, s3,
              or minio.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ObjectStore.Endpoint",
			usage: `
              ObjectStore.Endpoint is the host:port of a minio object store.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "ObjectStore.AccessKey",
			usage:      "\n              ObjectStore.AccessKey is the minio access key.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "ObjectStore.SecretKey",
			usage:      "\n              ObjectStore.SecretKey is the minio secret key.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "ObjectStore.UseSSL",
			usage:      "\n              ObjectStore.UseSSL specifies whether to connect to minio over TLS.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ObjectStore.Region",
			usage: `
              ObjectStore.Region is the bucket region for the s3 and minio
              providers.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Researcher.Name",
			usage:      "\n              Researcher.Name is the name of the person responsible for the data.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Researcher.Organization",
			usage:      "\n              Researcher.Organization is the researcher's organization.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Researcher.Email",
			usage:      "\n              Researcher.Email is the researcher's email address.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Defaults.XRes",
			usage: `
              Defaults.XRes is the grid cell width used for files that
              don't record their resolution.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Defaults.YRes",
			usage: `
              Defaults.YRes is the grid cell height used for files that
              don't record their resolution.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.MapUnits",
			usage:      "\n              Defaults.MapUnits are the units of the default resolution.",
			defaultVal: "m",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.Theme",
			usage:      "\n              Defaults.Theme is the descriptive metadata theme keyword.",
			defaultVal: "watershed",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Defaults.SourceEPSG",
			usage: `
              Defaults.SourceEPSG is the EPSG code of the coordinate reference
              system of files that don't record their own.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Defaults.TargetEPSG",
			usage: `
              Defaults.TargetEPSG is the EPSG code of the coordinate reference
              system the repository should serve data in. The default is
              the source system.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.ModelName",
			usage:      "\n              Defaults.ModelName is the name of the model that produced the data.",
			defaultVal: "isnobal",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.ModelSet",
			usage:      "\n              Defaults.ModelSet is the model set, e.g. inputs or outputs.",
			defaultVal: "inputs",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.ModelSetType",
			usage:      "\n              Defaults.ModelSetType is the model set type.",
			defaultVal: "grid",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.ModelSetTaxonomy",
			usage:      "\n              Defaults.ModelSetTaxonomy is the model set taxonomy.",
			defaultVal: "grid",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.Taxonomy",
			usage:      "\n              Defaults.Taxonomy is the dataset taxonomy.",
			defaultVal: "geoimage",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.GeoName",
			usage:      "\n              Defaults.GeoName is the name of the watershed the data cover.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "Defaults.GeoState",
			usage:      "\n              Defaults.GeoState is the state the watershed is in.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Timing.RunStart",
			usage: `
              Timing.RunStart is the time of the first time step of the model
              run, e.g. "2010-10-01 00:00:00". When set, files named by time
              step index (e.g. in.0010) are placed on the time axis by their index.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Timing.Step",
			usage: `
              Timing.Step is the duration of one model time step, e.g. 1h or 1d.`,
			defaultVal: "1h",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Dictionary.File",
			usage: `
              Dictionary.File is the path to a TOML file of variables to add to
              or replace in the built-in variable dictionary.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "modelrun",
			usage:      "\n              modelrun is the identifier of the model run.",
			shorthand:  "m",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags(), uploadCmd.Flags(), searchCmd.Flags()},
		},
		{
			name:       "parent",
			usage:      "\n              parent is the identifier of the parent model run, if any.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags(), modelRunCreateCmd.Flags()},
		},
		{
			name:       "description",
			usage:      "\n              description describes the model run or dataset.",
			shorthand:  "d",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags(), modelRunCreateCmd.Flags()},
		},
		{
			name: "dt",
			usage: `
              dt is the interval the data represent when it differs from the
              native time step of the files, e.g. 3d for data aggregated to 3-day
              totals.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "begin",
			usage: `
              begin overrides the beginning of the time period of the data,
              e.g. "2010-10-01 00:00:00".`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name:       "end",
			usage:      "\n              end overrides the end of the time period of the data.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "procdate",
			usage: `
              procdate is the processing date recorded in the descriptive
              metadata. The default is the current date.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "variables",
			usage: `
              variables are the variable codes of the bands of the files, in
              order. They are required for flat binary images that don't follow
              iSNOBAL naming.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "format",
			usage: `
              format overrides the file format detected from the file names,
              given as a file extension: tif, bin, or nc.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name:       "theme",
			usage:      "\n              theme overrides the descriptive metadata theme keyword.",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "descriptive",
			usage: `
              descriptive is the path to a descriptive metadata document to
              embed in the envelopes instead of building one for each file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the directory to write envelopes to, as <file>.json.
              If empty, envelopes are written to standard output.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name: "insert",
			usage: `
              insert specifies whether to insert the envelopes into the
              repository after they are created.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{synthesizeCmd.Flags()},
		},
		{
			name:       "name",
			usage:      "\n              name is the name of the model run.",
			shorthand:  "n",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{modelRunCreateCmd.Flags(), modelRunSearchCmd.Flags()},
		},
		{
			name:       "keywords",
			usage:      "\n              keywords is a comma-separated list of model run keywords.",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{modelRunCreateCmd.Flags()},
		},
		{
			name: "swift",
			usage: `
              swift specifies whether to upload files to the object storage
              tier rather than the primary tier.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{uploadCmd.Flags()},
		},
		{
			name:       "limit",
			usage:      "\n              limit is the maximum number of results to return. 0 means no limit.",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
		{
			name:       "offset",
			usage:      "\n              offset is the number of results to skip.",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{searchCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("WATERSHED")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(synthesizeCmd)
	Root.AddCommand(modelRunCmd)
	modelRunCmd.AddCommand(modelRunCreateCmd)
	modelRunCmd.AddCommand(modelRunSearchCmd)
	modelRunCmd.AddCommand(modelRunDeleteCmd)
	Root.AddCommand(uploadCmd)
	Root.AddCommand(insertCmd)
	Root.AddCommand(searchCmd)
	Root.AddCommand(downloadCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets the log level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("watershed: problem reading configuration file: %v", err)
		}
	}
	lvl, err := logrus.ParseLevel(Cfg.GetString("loglevel"))
	if err != nil {
		return fmt.Errorf("watershed: %v", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// newClient logs in to the repository specified in the configuration.
func newClient(ctx context.Context) (*cloud.Client, error) {
	_, cc, err := ReadConfig(Cfg)
	if err != nil {
		return nil, err
	}
	return cloud.NewClient(ctx, *cc)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "watershed",
	Short: "Metadata and repository tools for iSNOBAL model data.",
	Long: `watershed creates metadata for snow model data files and manages model runs
and datasets in a remote watershed data repository.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'WATERSHED_var' where 'var' is the
name of the variable to be set, with '.' replaced by '_' (e.g.,
WATERSHED_CONNECTION_PASSWORD).
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of watershed.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("watershed v%s\n", watershed.Version)
	},
	DisableAutoGenTag: true,
}

// synthesizeCmd creates the metadata envelopes of data files.
var synthesizeCmd = &cobra.Command{
	Use:   "synthesize FILE...",
	Short: "Create metadata for data files.",
	Long: `synthesize reads each data file (GeoTIFF, IPW flat binary, or netCDF)
and creates its descriptive metadata and the envelope the repository
stores for it. Values given on the command line take precedence over
values read from the files, which take precedence over the configured
defaults.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := ReadConfig(Cfg)
		if err != nil {
			return err
		}
		s, err := SynthesisConfig(Cfg)
		if err != nil {
			return err
		}
		envelopes, err := Synthesize(cmd.OutOrStdout(), cfg, s, args, Cfg.GetString("output"))
		if err != nil {
			return err
		}
		if !Cfg.GetBool("insert") {
			return nil
		}
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		docs := make([]interface{}, len(envelopes))
		for i, e := range envelopes {
			docs[i] = e
		}
		return Insert(ctx, cmd.OutOrStdout(), c, args, docs)
	},
	DisableAutoGenTag: true,
}

var modelRunCmd = &cobra.Command{
	Use:               "modelrun",
	Short:             "Manage model runs.",
	Long:              `modelrun creates, lists, and deletes model runs in the repository.`,
	DisableAutoGenTag: true,
}

var modelRunCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a model run.",
	Long: `create creates a new model run and prints its identifier.
The name must not be used by another active model run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		id, err := c.InitializeModelRun(ctx, cloud.ModelRunRequest{
			Name:        Cfg.GetString("name"),
			Researcher:  Cfg.GetString("Researcher.Name"),
			Description: Cfg.GetString("description"),
			Keywords:    Cfg.GetStringSlice("keywords"),
			ParentUUID:  Cfg.GetString("parent"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
	DisableAutoGenTag: true,
}

var modelRunSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "List model runs.",
	Long:  `search lists the active model runs, optionally only those with the given name.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		r, err := c.ModelRunSearch(ctx, cloud.ModelRunQuery{Name: Cfg.GetString("name")})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), r)
	},
	DisableAutoGenTag: true,
}

var modelRunDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a model run.",
	Long:  `delete deletes a model run along with its files and metadata.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		ok, err := c.DeleteModelRun(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("watershed: model run %s: %w", args[0], cloud.ErrNotFound)
		}
		cmd.Printf("deleted model run %s\n", args[0])
		return nil
	},
	DisableAutoGenTag: true,
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload data files.",
	Long: `upload uploads data files to the repository as part of the model run
given by --modelrun. With --swift, the files are stored in the object
storage tier specified by the ObjectStore configuration.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return Upload(ctx, cmd.OutOrStdout(), c, Cfg.GetString("modelrun"), args, Cfg.GetBool("swift"))
	},
	DisableAutoGenTag: true,
}

var insertCmd = &cobra.Command{
	Use:   "insert FILE...",
	Short: "Insert metadata envelopes.",
	Long: `insert registers the metadata envelopes (JSON documents, as created
by synthesize) in the given files with the repository.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readDocuments(args)
		if err != nil {
			return err
		}
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		return Insert(ctx, cmd.OutOrStdout(), c, args, docs)
	},
	DisableAutoGenTag: true,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search datasets.",
	Long: `search lists the datasets registered with the repository, optionally
only those of the model run given by --modelrun.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		r, err := c.DatasetSearch(ctx, cloud.DatasetQuery{
			ModelRunUUID: Cfg.GetString("modelrun"),
			Limit:        Cfg.GetInt("limit"),
			Offset:       Cfg.GetInt("offset"),
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), r)
	},
	DisableAutoGenTag: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download URL DEST",
	Short: "Download a file.",
	Long: `download saves the file at URL, for instance a download URL from a
dataset envelope, to DEST. DEST is left unchanged if the download fails.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Download(ctx, args[0], args[1]); err != nil {
			return err
		}
		cmd.Printf("downloaded %s\n", args[1])
		return nil
	},
	DisableAutoGenTag: true,
}
