package utils

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/mpapenbr/racesim/log"
)

const defaultNatsPort = "4222"

var natsURLRegex = regexp.MustCompile(
	"^(?P<proto>nats|tls)://(.*@)?(?P<addr>(?P<host>[^:/]*?)(:(?P<port>\\d+))?)/?$")

// WaitForTCP dials addr until a connection succeeds, the timeout is reached
// or ctx is done.
func WaitForTCP(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	log.Debug("wait for tcp connection",
		log.String("addr", addr),
		log.Duration("timeout", timeout))
	var d net.Dialer
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			log.Debug("tcp connection successful",
				log.String("addr", addr),
				log.Duration("duration", time.Since(start)))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s could not be reached after %v", addr, timeout)
		case <-ticker.C:
		}
	}
}

// ExtractFromNatsURL returns host:port of a nats:// or tls:// url.
// The NATS default port is used if the url has none.
func ExtractFromNatsURL(url string) string {
	param := resolveRegex(natsURLRegex, url)
	if param["addr"] == "" {
		return ""
	}
	if port := param["port"]; port != "" {
		return param["addr"]
	}
	return net.JoinHostPort(param["host"], defaultNatsPort)
}

func resolveRegex(re *regexp.Regexp, url string) (paramsMap map[string]string) {
	match := re.FindStringSubmatch(url)
	paramsMap = make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i > 0 && i < len(match) && name != "" {
			paramsMap[name] = match[i]
		}
	}
	return paramsMap
}
