package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"strings"

	"archpay-bend/models"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeReq decodes a json request body into an interface
func DecodeReq(r *http.Request, model interface{}) error {
	defer r.Body.Close()
	b, _ := ioutil.ReadAll(r.Body)
	err := json.Unmarshal(b, model)
	r.Body = ioutil.NopCloser(bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	return err
}

// ValidateReq checks the validate tags of a decoded request and returns the
// first failing field as a readable error
func ValidateReq(model interface{}) error {
	err := validate.Struct(model)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return errors.New(strings.ToLower(fe.Field()) + " failed " + fe.Tag() + "=" + fe.Param())
		}
		return errors.New(strings.ToLower(fe.Field()) + " failed " + fe.Tag())
	}
	return err
}

var trustedProxies []*net.IPNet

// TrustProxies sets the reverse proxies whose forwarding headers ClientIP
// honours. Entries are CIDRs or single addresses. Call once at startup.
func TrustProxies(entries []string) error {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return fmt.Errorf("trusted proxy %q is not an address", entry)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, n)
	}
	trustedProxies = nets
	return nil
}

func trusted(ip net.IP) bool {
	for _, n := range trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the caller. Forwarding headers are only
// read when the connection comes from a trusted proxy, and X-Forwarded-For
// is walked from the right so hops added by the client are ignored.
func ClientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if ip := net.ParseIP(remote); ip == nil || !trusted(ip) {
		return remote
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !trusted(ip) {
				return ip.String()
			}
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return remote
}

// ActorFromRequest returns the caller identity set by the auth middleware
func ActorFromRequest(r *http.Request) models.Actor {
	id, _ := r.Context().Value(models.UserIDKey).(string)
	role, _ := r.Context().Value(models.UserRoleKey).(string)
	if role == "" {
		role = models.RoleUser
	}
	return models.Actor{ID: id, Role: role}
}
