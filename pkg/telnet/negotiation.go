package telnet

// Telnet command bytes (RFC 854).
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240
)

// stripNegotiation removes IAC sequences from data. Every DO is refused
// with WONT and every WILL with DONT; the refusals are returned for the
// caller to send back. An escaped IAC IAC becomes a literal 0xff.
func stripNegotiation(data []byte) (text, replies []byte) {
	text = make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b != iac {
			text = append(text, b)
			continue
		}
		if i+1 >= len(data) {
			break
		}
		cmd := data[i+1]
		switch {
		case cmd == iac:
			text = append(text, iac)
			i++
		case cmd >= will && cmd <= dont:
			if i+2 >= len(data) {
				return text, replies
			}
			opt := data[i+2]
			switch cmd {
			case do:
				replies = append(replies, iac, wont, opt)
			case will:
				replies = append(replies, iac, dont, opt)
			}
			i += 2
		case cmd == sb:
			// Skip the subnegotiation up to IAC SE.
			j := i + 2
			for ; j+1 < len(data); j++ {
				if data[j] == iac && data[j+1] == se {
					break
				}
			}
			i = j + 1
		default:
			i++
		}
	}
	return text, replies
}
