package control

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"houseportal/houseerr"
)

// trailingSig matches an optional " <METHOD> <8-hex-char-signature>" suffix.
var trailingSig = regexp.MustCompile(`^(.*\S)\s+(\S+)\s+([0-9a-f]{8})\s*$`)

// splitSignature separates a trimmed line into its signed payload and an
// optional (method, signature) pair, exactly mirroring the wire rule that
// the suffix, if present, is stripped before the remainder is decoded.
func splitSignature(line string) (payload, method, sigHex string, signed bool) {
	if m := trailingSig.FindStringSubmatch(line); m != nil {
		return m[1], m[2], m[3], true
	}
	return line, "", "", false
}

func trimControl(s string) string {
	return strings.TrimRightFunc(s, func(r rune) bool { return r < 0x20 })
}

// ParseLive decodes one UDP control datagram. keys governs signature
// enforcement: an empty KeySet accepts unsigned messages, a non-empty one
// requires a verifying signature.
func ParseLive(data []byte, keys KeySet) (*Message, error) {
	line := trimControl(string(data))
	if line == "" {
		return nil, houseerr.ErrMalformed
	}
	payload, method, sigHex, signed := splitSignature(line)
	if err := Verify(keys, payload, method, sigHex, signed); err != nil {
		return nil, err
	}
	tokens := strings.Fields(payload)
	if len(tokens) < 2 {
		return nil, houseerr.ErrMalformed
	}
	switch Keyword(tokens[0]) {
	case KeywordRedirect:
		ts, err := strconv.ParseInt(tokens[1], 10, 64)
		if err != nil {
			return nil, houseerr.ErrMalformed
		}
		rm, err := parseRedirectTail(tokens[2:])
		if err != nil {
			return nil, err
		}
		rm.Timestamp = ts
		return &Message{Keyword: KeywordRedirect, Redirect: rm}, nil
	case KeywordPeer:
		ts, err := strconv.ParseInt(tokens[1], 10, 64)
		if err != nil {
			return nil, houseerr.ErrMalformed
		}
		peers, err := parsePeerTail(tokens[2:])
		if err != nil {
			return nil, err
		}
		return &Message{Keyword: KeywordPeer, Peer: &PeerMessage{Timestamp: ts, Peers: peers}}, nil
	default:
		return nil, houseerr.ErrUnknownKeyword
	}
}

// ParseConfigLine decodes one line of /etc/house/portal.config: REDIRECT and
// PEER without a leading timestamp, plus the config-only LOCAL and SIGN
// directives. Comments (leading '#') and blank lines are the caller's
// concern; this function expects a single already-trimmed directive.
func ParseConfigLine(line string) (*Message, error) {
	line = strings.TrimSpace(line)
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, houseerr.ErrMalformed
	}
	switch Keyword(tokens[0]) {
	case KeywordRedirect:
		if len(tokens) < 2 {
			return nil, houseerr.ErrMalformed
		}
		rm, err := parseRedirectTail(tokens[1:])
		if err != nil {
			return nil, err
		}
		return &Message{Keyword: KeywordRedirect, Redirect: rm}, nil
	case KeywordPeer:
		peers, err := parsePeerTail(tokens[1:])
		if err != nil {
			return nil, err
		}
		return &Message{Keyword: KeywordPeer, Peer: &PeerMessage{Peers: peers}}, nil
	case KeywordLocal:
		return &Message{Keyword: KeywordLocal, Local: &struct{}{}}, nil
	case KeywordSign:
		if len(tokens) != 3 {
			return nil, houseerr.ErrMalformed
		}
		return &Message{Keyword: KeywordSign, Sign: &SignMessage{Method: tokens[1], HexKey: tokens[2]}}, nil
	default:
		return nil, houseerr.ErrUnknownKeyword
	}
}

func parseRedirectTail(tokens []string) (*RedirectMessage, error) {
	if len(tokens) < 1 {
		return nil, houseerr.ErrMalformed
	}
	rm := &RedirectMessage{Target: tokens[0]}
	rest := tokens[1:]
	var paths []string
	for _, tok := range rest {
		switch {
		case tok == "HIDE":
			rm.Hide = true
		case strings.HasPrefix(tok, "PID:"):
			pid, err := strconv.Atoi(strings.TrimPrefix(tok, "PID:"))
			if err != nil {
				return nil, houseerr.ErrMalformed
			}
			rm.PID = pid
		default:
			paths = append(paths, tok)
		}
	}
	if len(paths) == 0 {
		return nil, houseerr.ErrMalformed
	}
	for _, tok := range paths {
		if idx := strings.Index(tok, ":"); idx > 0 && strings.HasPrefix(tok[idx+1:], "/") {
			rm.Paths = append(rm.Paths, RedirectPath{Service: tok[:idx], Path: tok[idx+1:]})
			continue
		}
		rm.Paths = append(rm.Paths, RedirectPath{Path: tok})
	}
	for _, p := range rm.Paths {
		if len(p.Path) < 2 || p.Path[0] != '/' {
			return nil, houseerr.ErrMalformed
		}
	}
	return rm, nil
}

func parsePeerTail(tokens []string) ([]PeerAddr, error) {
	if len(tokens) == 0 {
		return nil, houseerr.ErrMalformed
	}
	peers := make([]PeerAddr, 0, len(tokens))
	for _, tok := range tokens {
		host := tok
		var exp int64
		explicit := false
		if idx := strings.LastIndex(tok, "="); idx > 0 {
			host = tok[:idx]
			v, err := strconv.ParseInt(tok[idx+1:], 10, 64)
			if err != nil {
				return nil, houseerr.ErrMalformed
			}
			exp = v
			explicit = true
		}
		peers = append(peers, PeerAddr{Host: host, Expiration: exp, Explicit: explicit})
	}
	return peers, nil
}

// SerializeLive renders a REDIRECT or PEER message as the live wire form
// ("KEYWORD ts ...", with an optional trailing " method sig" when keys is
// non-empty). Round-tripping ParseLive(SerializeLive(m)) reproduces m.
func SerializeLive(msg *Message, ts int64, keys KeySet) (string, error) {
	var body string
	switch msg.Keyword {
	case KeywordRedirect:
		body = fmt.Sprintf("%s %d %s", KeywordRedirect, ts, redirectTail(msg.Redirect))
	case KeywordPeer:
		body = fmt.Sprintf("%s %d %s", KeywordPeer, ts, peerTail(msg.Peer.Peers))
	default:
		return "", houseerr.ErrUnknownKeyword
	}
	method, sig, err := Sign(keys, body)
	if err != nil {
		return "", err
	}
	if method == "" {
		return body, nil
	}
	return body + " " + method + " " + sig, nil
}

// SerializeConfig renders a message as a config-file directive (no
// timestamp, no signature).
func SerializeConfig(msg *Message) (string, error) {
	switch msg.Keyword {
	case KeywordRedirect:
		return fmt.Sprintf("%s %s", KeywordRedirect, redirectTail(msg.Redirect)), nil
	case KeywordPeer:
		return fmt.Sprintf("%s %s", KeywordPeer, peerTail(msg.Peer.Peers)), nil
	case KeywordLocal:
		return string(KeywordLocal), nil
	case KeywordSign:
		return fmt.Sprintf("%s %s %s", KeywordSign, msg.Sign.Method, msg.Sign.HexKey), nil
	default:
		return "", houseerr.ErrUnknownKeyword
	}
}

func redirectTail(rm *RedirectMessage) string {
	var b strings.Builder
	b.WriteString(rm.Target)
	if rm.Hide {
		b.WriteString(" HIDE")
	}
	if rm.PID != 0 {
		fmt.Fprintf(&b, " PID:%d", rm.PID)
	}
	for _, p := range rm.Paths {
		b.WriteString(" ")
		if p.Service != "" {
			b.WriteString(p.Service)
			b.WriteString(":")
		}
		b.WriteString(p.Path)
	}
	return b.String()
}

func peerTail(peers []PeerAddr) string {
	parts := make([]string, len(peers))
	for i, p := range peers {
		if p.Explicit {
			parts[i] = fmt.Sprintf("%s=%d", p.Host, p.Expiration)
		} else {
			parts[i] = p.Host
		}
	}
	return strings.Join(parts, " ")
}
