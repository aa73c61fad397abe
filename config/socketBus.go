package config

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/redis/rueidis"
)

var (
	socketBus   rueidis.Client
	socketBusMu sync.Mutex
)

// GetSocketBus returns the rueidis client used to fan contract events out to
// the socket gateway, or nil when SOCKET_REDIS_ADDRESS is not configured.
func GetSocketBus() rueidis.Client {
	socketBusMu.Lock()
	defer socketBusMu.Unlock()
	return socketBus
}

func ConnectSocketBus() error {
	addr := strings.TrimSpace(os.Getenv("SOCKET_REDIS_ADDRESS"))
	if addr == "" {
		return nil
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: strings.Split(addr, ","),
		Password:    os.Getenv("SOCKET_REDIS_PASSWORD"),
	})
	if err != nil {
		return err
	}
	socketBusMu.Lock()
	socketBus = client
	socketBusMu.Unlock()
	log.Printf("socket bus ready (addr=%s)", addr)
	return nil
}

func CloseSocketBus() {
	socketBusMu.Lock()
	defer socketBusMu.Unlock()
	if socketBus != nil {
		socketBus.Close()
		socketBus = nil
	}
}
