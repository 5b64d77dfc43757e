package cli

import (
	"net"
	"strconv"
	"strings"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/scanning"
)

// buildBatch turns command line target specs into a batch. With a port
// list each spec names a host and is expanded once per port.
func buildBatch(args []string, protocol, ports string) (scanning.Batch, error) {
	if len(args) == 0 {
		return nil, errors.ErrConfigMissing("targets")
	}

	proto, err := scanning.ParseProtocol(protocol)
	if err != nil {
		return nil, err
	}
	if proto == scanning.ProtocolNone {
		proto = scanning.ProtocolTCP
	}

	var portList []uint16
	if strings.TrimSpace(ports) != "" {
		if portList, err = scanning.ParsePorts(ports); err != nil {
			return nil, err
		}
	}

	batch := make(scanning.Batch, 0, len(args)*max(1, len(portList)))
	for _, arg := range args {
		if len(portList) == 0 {
			tg, err := scanning.ParseTarget(arg, proto)
			if err != nil {
				return nil, err
			}
			batch = append(batch, tg)
			continue
		}

		expanded, err := expandPorts(arg, proto, portList)
		if err != nil {
			return nil, err
		}
		batch = append(batch, expanded...)
	}
	return batch, nil
}

func expandPorts(spec string, proto scanning.Protocol, ports []uint16) (scanning.Batch, error) {
	host := strings.TrimSpace(spec)
	if scheme, rest, ok := strings.Cut(host, "://"); ok {
		p, err := scanning.ParseProtocol(scheme)
		if err != nil {
			return nil, err
		}
		proto, host = p, rest
	}

	if proto.IsICMP() {
		tg, err := scanning.ParseTarget(proto.String()+"://"+host, proto)
		if err != nil {
			return nil, err
		}
		return scanning.Batch{tg}, nil
	}

	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" || strings.Count(host, ":") == 1 {
		return nil, errors.NewScanError(errors.CodeTargetInvalid,
			"with --ports a target names a host only").WithTarget(spec)
	}

	batch := make(scanning.Batch, 0, len(ports))
	for _, port := range ports {
		tg, err := scanning.ParseTarget(net.JoinHostPort(host, strconv.Itoa(int(port))), proto)
		if err != nil {
			return nil, err
		}
		batch = append(batch, tg)
	}
	return batch, nil
}
