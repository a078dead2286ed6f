package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/Meet/internal/adapters/capture"
	"github.com/dkeye/Meet/internal/core"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices found in the media directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		files := capture.NewFiles(cfg.MediaDir, capture.ScreenOptions{})
		devices, err := files.Devices(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), devicesTable(devices))
		return err
	},
}

func devicesTable(devices []core.Device) string {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{string(d.Kind), d.ID, d.Label})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Kind", "ID", "Label").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}
