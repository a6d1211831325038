package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trakrf/platform-sub018/internal/cs108"
	"github.com/trakrf/platform-sub018/internal/transport"
)

var moduleNames = map[string]cs108.Module{
	"rfid":         cs108.ModuleRFID,
	"barcode":      cs108.ModuleBarcode,
	"notification": cs108.ModuleNotification,
	"siliconlab":   cs108.ModuleSiliconLab,
	"bluetooth":    cs108.ModuleBluetooth,
}

func newEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a valid reader frame as hex",
		Long: `Build an uplink frame with a correct header and checksum and print it as
hex. Useful for writing replay captures and reproducing decoder issues.`,
		Example: `  cs108ctl encode --module notification --code 0xA000 --data 0ED6
  cs108ctl encode --module notification --code 0xA102`,
		Args: cobra.NoArgs,
		RunE: runEncode,
	}
	cmd.Flags().String("module", "notification", "Source module (rfid, barcode, notification, siliconlab, bluetooth, or a byte such as 0xD9)")
	cmd.Flags().String("code", "", "Event code, e.g. 0xA000")
	cmd.Flags().String("data", "", "Event data as hex")
	cmd.Flags().Bool("compact", false, "Print without spaces")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func runEncode(cmd *cobra.Command, _ []string) error {
	moduleArg, _ := cmd.Flags().GetString("module")
	codeArg, _ := cmd.Flags().GetString("code")
	dataArg, _ := cmd.Flags().GetString("data")
	compact, _ := cmd.Flags().GetBool("compact")

	module, err := parseModule(moduleArg)
	if err != nil {
		return err
	}
	code, err := strconv.ParseUint(codeArg, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid event code %q: %w", codeArg, err)
	}
	data, err := transport.ParseHex(strings.NewReader(dataArg))
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	raw, err := cs108.DefaultLayout().Encode(module, uint16(code), data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), formatHex(raw, compact))
	return err
}

func parseModule(s string) (cs108.Module, error) {
	if m, ok := moduleNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid module %q: use a module name or a byte value", s)
	}
	return cs108.Module(v), nil
}

func formatHex(raw []byte, compact bool) string {
	s := strings.ToUpper(hex.EncodeToString(raw))
	if compact {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+2])
	}
	return b.String()
}
