package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/cipher"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/proto"
)

func init() {
	cmdDecode.Flags().Bool("hex", false, "input is a hex dump instead of raw bytes")
	rootCmd.AddCommand(cmdDecode)
}

var cmdDecode = &cobra.Command{
	Use:     "decode <capture>",
	Example: "pixcutctl decode --hex rfcomm.txt",
	Short:   "Dissect a captured byte stream into packets",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		isHex, err := cmd.Flags().GetBool("hex")
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if isHex {
			if data, err = decodeHexDump(data); err != nil {
				return err
			}
		}

		unit, err := newDecodeCipher(configFromContext(cmd.Context()).Encryption.Key)
		if err != nil {
			return err
		}
		return dissect(cmd.OutOrStdout(), data, unit)
	},
}

func newDecodeCipher(key string) (*cipher.Unit, error) {
	raw, err := cipher.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cipher.New(raw)
}

// decodeHexDump accepts hex with arbitrary whitespace and optional 0x prefixes.
func decodeHexDump(data []byte) ([]byte, error) {
	var b strings.Builder
	for _, field := range strings.Fields(string(data)) {
		b.WriteString(strings.TrimPrefix(strings.ToLower(field), "0x"))
	}
	out, err := hex.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("decode hex dump: %w", err)
	}
	return out, nil
}

func dissect(w io.Writer, data []byte, unit *cipher.Unit) error {
	var scanner proto.Scanner
	frames := scanner.Feed(data)

	for i, frame := range frames {
		if frame.Err != nil {
			fmt.Fprintf(w, "#%d dropped %d bytes: %v\n", i, len(frame.Raw), frame.Err)
			continue
		}

		packet := gopacket.NewPacket(frame.Raw, proto.LayerTypeAvocado, gopacket.Default)
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			fmt.Fprintf(w, "#%d undecodable: %v\n", i, errLayer.Error())
			continue
		}
		layer, ok := packet.Layer(proto.LayerTypeAvocado).(*proto.Layer)
		if !ok {
			continue
		}

		fmt.Fprintf(w, "#%d %s\n", i, layer.Packet)
		payload := layer.Packet.Payload
		if mode := layer.Packet.Flags().Encryption; mode != proto.EncryptionNone && unit.HasKey() {
			plain, err := unit.Transform(payload, mode)
			if err != nil {
				fmt.Fprintf(w, "   decrypt: %v\n", err)
				continue
			}
			payload = plain
		}
		fmt.Fprintf(w, "   %s\n", formatPayload(layer.Packet.Encoding, payload))
	}

	if n := scanner.Buffered(); n > 0 {
		fmt.Fprintf(w, "%d trailing bytes without a complete frame\n", n)
	}
	if n := scanner.Skipped(); n > 0 {
		fmt.Fprintf(w, "%d bytes skipped outside of frames\n", n)
	}
	return nil
}

func formatPayload(encoding proto.EncodingType, payload []byte) string {
	if encoding == proto.EncodingJSON && utf8.Valid(payload) {
		return string(bytes.TrimSpace(payload))
	}
	const maxDump = 32
	if len(payload) > maxDump {
		return fmt.Sprintf("%s... (%d bytes)", hex.EncodeToString(payload[:maxDump]), len(payload))
	}
	return hex.EncodeToString(payload)
}
