package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/t77yq/tileboard/internal/config"
	"github.com/t77yq/tileboard/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the dashboard document",
	Long: `Inspect and edit the dashboard document. Every edit is written through
atomically; a running server picks it up from the file watcher.

Examples:
  # Show the grid
  tileboard config show

  # Put the finance tile in slot 2 and watch QQQ
  tileboard config set-slot 2 finance
  tileboard config param 2 symbol QQQ

  # Switch palette
  tileboard config theme Sunset`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current layout",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetSlotCmd = &cobra.Command{
	Use:   "set-slot POSITION KIND",
	Short: "Assign a tile kind to a slot (\"none\" disables it)",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSetSlot,
}

var configToggleCmd = &cobra.Command{
	Use:   "toggle POSITION",
	Short: "Enable or disable the widget of a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigToggle,
}

var configColorCmd = &cobra.Command{
	Use:   "color POSITION",
	Short: "Cycle the colour of a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigColor,
}

var configParamCmd = &cobra.Command{
	Use:   "param POSITION KEY [VALUE]",
	Short: "Set a widget parameter (omit VALUE to remove it)",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runConfigParam,
}

var configThemeCmd = &cobra.Command{
	Use:   "theme NAME",
	Short: "Apply a colour theme",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigTheme,
}

var configThemesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List the available themes",
	Args:  cobra.NoArgs,
	RunE:  runConfigThemes,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetSlotCmd, configToggleCmd,
		configColorCmd, configParamCmd, configThemeCmd, configThemesCmd)
}

// editSession is what every editing command needs
type editSession struct {
	store  *config.Store
	editor *config.Editor
}

func openEditSession() (*editSession, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	themes := loadThemes(cfg, logger)
	store := config.NewStore(cfg.DashboardPath, logger)
	store.Load()
	return &editSession{
		store:  store,
		editor: config.NewEditor(cfg.GridSlots, themes),
	}, nil
}

func parsePosition(arg string) (int, error) {
	position, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q: %w", arg, err)
	}
	return position, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	s, err := openEditSession()
	if err != nil {
		return err
	}
	cfg := s.store.Snapshot()
	if jsonFlag {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}

	fmt.Printf("Dashboard: %s\n", s.store.Path())
	fmt.Printf("Theme:     %s\n", cfg.Theme)
	fmt.Printf("Interval:  %d\n\n", cfg.Settings.UpdateInterval)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tKIND\tENABLED\tCOLOR\tPARAMS")
	for position := 0; position < s.editor.Slots; position++ {
		spec := config.WidgetAt(cfg, position)
		if spec == nil {
			fmt.Fprintf(w, "%d\t-\t-\t-\t\n", position)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%v\t%v\n", position, spec.Type, spec.Enabled, spec.Color, spec.Params)
	}
	return w.Flush()
}

func runConfigSetSlot(cmd *cobra.Command, args []string) error {
	position, err := parsePosition(args[0])
	if err != nil {
		return err
	}
	s, err := openEditSession()
	if err != nil {
		return err
	}
	_, err = s.store.Update(func(cfg *model.DashboardConfig) error {
		return s.editor.SetSlotKind(cfg, position, args[1])
	})
	if err != nil {
		return err
	}
	fmt.Printf("Slot %d set to %s\n", position, args[1])
	return nil
}

func runConfigToggle(cmd *cobra.Command, args []string) error {
	position, err := parsePosition(args[0])
	if err != nil {
		return err
	}
	s, err := openEditSession()
	if err != nil {
		return err
	}
	var enabled bool
	_, err = s.store.Update(func(cfg *model.DashboardConfig) (err error) {
		enabled, err = s.editor.ToggleSlot(cfg, position)
		return err
	})
	if err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Slot %d %s\n", position, state)
	return nil
}

func runConfigColor(cmd *cobra.Command, args []string) error {
	position, err := parsePosition(args[0])
	if err != nil {
		return err
	}
	s, err := openEditSession()
	if err != nil {
		return err
	}
	var color model.Color
	_, err = s.store.Update(func(cfg *model.DashboardConfig) (err error) {
		color, err = s.editor.CycleColor(cfg, position)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Slot %d colour %v\n", position, color)
	return nil
}

func runConfigParam(cmd *cobra.Command, args []string) error {
	position, err := parsePosition(args[0])
	if err != nil {
		return err
	}
	value := ""
	if len(args) == 3 {
		value = args[2]
	}
	s, err := openEditSession()
	if err != nil {
		return err
	}
	_, err = s.store.Update(func(cfg *model.DashboardConfig) error {
		return s.editor.SetParam(cfg, position, args[1], value)
	})
	return err
}

func runConfigTheme(cmd *cobra.Command, args []string) error {
	s, err := openEditSession()
	if err != nil {
		return err
	}
	_, err = s.store.Update(func(cfg *model.DashboardConfig) error {
		return s.editor.ApplyTheme(cfg, args[0])
	})
	if err != nil {
		return err
	}
	fmt.Printf("Theme %s applied\n", args[0])
	return nil
}

func runConfigThemes(cmd *cobra.Command, args []string) error {
	s, err := openEditSession()
	if err != nil {
		return err
	}
	names := s.editor.Themes.Names()
	if jsonFlag {
		return printJSON(names)
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
