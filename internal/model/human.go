// human readable and writable stdlib types
// which can be used inside config file
package model

import (
	"errors"
	"net"
	"os"
	"time"
)

type TCPAddr struct {
	*net.TCPAddr
}

func (addr *TCPAddr) UnmarshalText(text []byte) error {
	if addr == nil {
		return errors.New("can't unmarshal to nil")
	}
	if len(text) == 0 {
		return errors.New("can't be empty")
	}
	parsed, err := net.ResolveTCPAddr("tcp", os.ExpandEnv(string(text)))
	if err != nil {
		return err
	}
	addr.TCPAddr = parsed
	return nil
}

func (addr TCPAddr) MarshalText() ([]byte, error) {
	if addr.TCPAddr == nil {
		return []byte{}, nil
	}
	return []byte(addr.String()), nil
}

// Duration accepts both Go (1m30s) and ISO 8601 (PT1M30S) notation.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	if d == nil {
		return errors.New("can't unmarshal to nil")
	}
	s := os.ExpandEnv(string(text))
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	if s[0] == 'P' {
		parsed, err := ParseISODuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
