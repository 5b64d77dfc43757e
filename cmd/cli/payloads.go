package cli

import (
	"encoding/hex"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netprobe/internal/payloads"
)

const payloadPreviewBytes = 16

var payloadNames = map[uint16]string{
	payloads.Generic:     "generic (any other port)",
	payloads.PortDNS:     "dns",
	payloads.PortNTP:     "ntp",
	payloads.PortNetBIOS: "netbios-ns",
	payloads.PortSNMP:    "snmp",
	payloads.PortSSDP:    "ssdp",
	payloads.PortMDNS:    "mdns",
}

// payloadsCmd represents the payloads command
var payloadsCmd = &cobra.Command{
	Use:   "payloads",
	Short: "List the UDP probe payloads",
	Long: `List the datagram sent to each UDP port. Ports without a dedicated entry
receive the generic payload.`,
	Args: cobra.NoArgs,
	RunE: runPayloads,
}

func init() {
	rootCmd.AddCommand(payloadsCmd)
}

func runPayloads(cmd *cobra.Command, _ []string) error {
	lib := payloads.Default()

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Port", "Service", "Bytes", "Preview")

	for _, port := range lib.Ports() {
		payload := lib.Lookup(port)
		name := payloadNames[port]
		if name == "" {
			name = "-"
		}
		preview := payload
		if len(preview) > payloadPreviewBytes {
			preview = preview[:payloadPreviewBytes]
		}
		_ = table.Append([]string{
			strconv.Itoa(int(port)),
			name,
			strconv.Itoa(len(payload)),
			hex.EncodeToString(preview),
		})
	}

	return table.Render()
}
