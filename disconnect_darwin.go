package sockfd

import "github.com/database64128/sockfd-go/bsd"

// disconnect uses disconnectx(2). The peer sees FIN rather than RST.
func disconnect(fd int) error {
	return bsd.Disconnectx(fd, bsd.SAE_ASSOCID_ANY, bsd.SAE_CONNID_ANY)
}
