package narrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"readaloud/internal/cli/scheme/colours"
	"readaloud/internal/domain/document"
	"readaloud/internal/domain/profile"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Commands returns the cobra command tree. ctx is cancelled on shutdown.
func (n *Narrator) Commands(ctx context.Context) []*cobra.Command {
	process := &cobra.Command{
		Use:   "process <file>...",
		Short: "📖 Read documents aloud or save them as audio",
		Long:  "Extract the text of each file, synthesize it with the profile's engine and play or save the result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return n.Process(ctx, cmd, args) },
	}
	process.Flags().StringP("voice", "v", profile.DefaultName, "Voice profile to use")
	process.Flags().StringP("format", "f", "mp3", "Output audio format: "+strings.Join(OutputFormats, ", "))
	process.Flags().BoolP("save", "s", false, "Save audio to a file instead of playing it")
	process.Flags().StringP("output", "o", "", "Directory for saved audio (default process.output_dir)")

	batch := &cobra.Command{
		Use:   "batch [dir]",
		Short: "📚 Convert every document in a directory",
		Long:  "Save every readable document in dir (default the current directory) as audio, several files at a time",
		Args:  cobra.MaximumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return n.Batch(ctx, cmd, args) },
	}
	batch.Flags().StringP("voice", "v", profile.DefaultName, "Voice profile to use")
	batch.Flags().StringP("format", "f", "wav", "Output audio format: "+strings.Join(OutputFormats, ", "))
	batch.Flags().StringP("output", "o", "", "Directory for saved audio (default process.output_dir)")

	engines := &cobra.Command{
		Use:   "engines",
		Short: "🎙️ Inspect speech engines",
	}
	engines.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered engines",
			RunE:  n.ListEngines,
		},
		&cobra.Command{
			Use:   "voices <engine>",
			Short: "List the voices an engine offers",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return n.ListVoices(ctx, cmd, args) },
		},
	)

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "🗄️ Manage the audio cache",
	}
	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache usage",
			RunE:  n.CacheStats,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached entry",
			RunE:  n.CacheClear,
		},
	)

	profiles := &cobra.Command{
		Use:   "profiles",
		Short: "🎭 Manage voice profiles",
	}
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a voice profile",
		Args:  cobra.ExactArgs(1),
		RunE:  n.CreateProfile,
	}
	create.Flags().StringP("engine", "e", "auto", "Engine the profile uses")
	create.Flags().String("voice-id", "", "Engine voice ID")
	create.Flags().StringToString("set", nil, "Engine settings as key=value pairs")
	profiles.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List voice profiles",
			RunE:  n.ListProfiles,
		},
		create,
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a voice profile",
			Args:  cobra.ExactArgs(1),
			RunE:  n.DeleteProfile,
		},
	)

	return []*cobra.Command{process, batch, engines, cacheCmd, profiles}
}

func processOptions(cmd *cobra.Command, save bool) Options {
	voice, _ := cmd.Flags().GetString("voice")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	if !save {
		save, _ = cmd.Flags().GetBool("save")
	}
	return Options{Profile: voice, Format: format, Save: save, OutputDir: output}
}

// Process handles "process". Files are handled one after another; a failing
// file is reported and the rest still run.
func (n *Narrator) Process(ctx context.Context, cmd *cobra.Command, args []string) error {
	opts := processOptions(cmd, false)
	out := cmd.OutOrStdout()

	if opts.Save && len(args) > 1 {
		return report(out, n.ProcessBatch(ctx, args, opts))
	}

	var results []Result
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		if !opts.Save {
			colours.Success.Fprintf(out, "🎵 Reading %s (Ctrl+C to stop)\n", path)
		}
		res, _ := n.ProcessFile(ctx, path, opts)
		results = append(results, res)
	}
	return report(out, results)
}

// Batch handles "batch".
func (n *Narrator) Batch(ctx context.Context, cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	paths, err := document.Scan(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(paths) == 0 {
		colours.Warning.Fprintf(out, "🔍 No supported documents in %s\n", dir)
		return nil
	}
	colours.Info.Fprintf(out, "📚 Converting %d files, %d at a time\n", len(paths), n.cfg.Process.Parallel)
	return report(out, n.ProcessBatch(ctx, paths, processOptions(cmd, true)))
}

func report(out io.Writer, results []Result) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			colours.Error.Fprintf(out, "❌ %s: %v\n", r.Input, r.Err)
			continue
		}
		if r.Output != "" {
			colours.Success.Fprintf(out, "✅ %s -> ", r.Input)
			colours.Path.Fprintf(out, "%s", r.Output)
		} else {
			colours.Success.Fprintf(out, "✅ %s", r.Input)
		}
		fmt.Fprintf(out, " (%s, %d chunks, %d cached, %s)\n",
			r.Engine, r.Chunks, r.CacheHits, r.Duration.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// ListEngines handles "engines list".
func (n *Narrator) ListEngines(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	colours.Title.Fprintln(out, "🎙️ Speech Engines")
	fmt.Fprintln(out)

	auto := n.registry.Resolve("auto")
	for _, name := range n.registry.Names() {
		d, ok := n.registry.Info(name)
		if !ok {
			colours.Warning.Fprintf(out, "  • %s (unavailable)\n", name)
			continue
		}
		colours.Engine.Fprintf(out, "  • %s", d.Name)
		fmt.Fprintf(out, " v%s", d.Version)
		if name == auto {
			colours.Success.Fprint(out, "  ← auto")
		}
		fmt.Fprintln(out)

		network := "offline"
		if d.RequiresNetwork {
			network = "network"
		}
		fmt.Fprintf(out, "     %s | max %d chars | %s audio | %s\n",
			network, d.MaxTextLength, d.AudioFormat, strings.Join(d.SupportedLanguages, ", "))
	}
	return nil
}

// ListVoices handles "engines voices".
func (n *Narrator) ListVoices(ctx context.Context, cmd *cobra.Command, args []string) error {
	name := n.registry.Resolve(args[0])
	e, ok := n.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown engine %q", args[0])
	}
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	voices, err := e.GetAvailableVoices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	colours.Title.Fprintf(out, "🗣️ Voices for %s\n\n", name)
	for _, v := range voices {
		colours.Engine.Fprintf(out, "  %-32s", v.ID)
		fmt.Fprintf(out, " %-8s %-8s %s\n", v.LanguageCode, v.Gender, v.Name)
	}
	colours.Success.Fprintf(out, "\n✨ %d voices\n", len(voices))
	return nil
}

// CacheStats handles "cache stats".
func (n *Narrator) CacheStats(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if n.cache == nil {
		colours.Warning.Fprintln(out, "Cache is disabled (cache.enabled)")
		return nil
	}
	s := n.cache.Stats()
	colours.Title.Fprintln(out, "📊 Audio Cache")
	colours.Info.Fprintf(out, "📁 Location: %s\n", n.cache.Dir())
	colours.Info.Fprintf(out, "📦 Entries: %d\n", s.EntryCount)
	colours.Info.Fprintf(out, "📏 Size: %s of %s\n",
		humanize.IBytes(uint64(s.TotalSizeBytes)), humanize.IBytes(uint64(s.MaxSizeBytes)))
	if s.EntryCount > 0 {
		oldest := time.Now().Add(-time.Duration(s.OldestEntryAgeSeconds * float64(time.Second)))
		colours.Info.Fprintf(out, "🕐 Oldest entry: %s\n", humanize.Time(oldest))
	}
	colours.Info.Fprintf(out, "⏳ Max age: %s days\n", humanize.Ftoa(s.MaxAgeSeconds/86400))
	return nil
}

// CacheClear handles "cache clear".
func (n *Narrator) CacheClear(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if n.cache == nil {
		colours.Warning.Fprintln(out, "Cache is disabled (cache.enabled)")
		return nil
	}
	before := n.cache.Stats()
	n.cache.Clear()
	colours.Success.Fprintf(out, "🧹 Removed %d entries (%s)\n", before.EntryCount, humanize.IBytes(uint64(before.TotalSizeBytes)))
	return nil
}

// ListProfiles handles "profiles list".
func (n *Narrator) ListProfiles(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	colours.Title.Fprintln(out, "🎭 Voice Profiles")
	fmt.Fprintln(out)
	for _, p := range n.profiles.List() {
		colours.Prompt.Fprintf(out, "  %s", p.Name)
		fmt.Fprint(out, " → ")
		colours.Engine.Fprint(out, p.Engine)
		if p.VoiceID != "" {
			fmt.Fprintf(out, " (%s)", p.VoiceID)
		}
		fmt.Fprintln(out)
		for _, k := range sortedKeys(p.Settings) {
			fmt.Fprintf(out, "     %s = %v\n", k, p.Settings[k])
		}
	}
	return nil
}

// CreateProfile handles "profiles create".
func (n *Narrator) CreateProfile(cmd *cobra.Command, args []string) error {
	engine, _ := cmd.Flags().GetString("engine")
	voiceID, _ := cmd.Flags().GetString("voice-id")
	set, _ := cmd.Flags().GetStringToString("set")

	settings := make(map[string]interface{}, len(set))
	for k, v := range set {
		settings[k] = v
	}
	p, err := n.profiles.Create(profile.Profile{
		Name:     args[0],
		Engine:   engine,
		VoiceID:  voiceID,
		Settings: settings,
	})
	if err != nil {
		return err
	}
	colours.Success.Fprintf(cmd.OutOrStdout(), "✨ Created profile %s (%s)\n", p.Name, p.Engine)
	return nil
}

// DeleteProfile handles "profiles delete".
func (n *Narrator) DeleteProfile(cmd *cobra.Command, args []string) error {
	if err := n.profiles.Delete(args[0]); err != nil {
		return err
	}
	colours.Success.Fprintf(cmd.OutOrStdout(), "🗑️ Deleted profile %s\n", args[0])
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
