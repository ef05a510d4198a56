package evm

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/validation"
)

// ABIWordHexLen is the hex length of one 32-byte ABI word.
const ABIWordHexLen = 64

// metadataLayout describes one CBOR metadata encoding emitted by solc.
// Constructor arguments follow the metadata in a creation transaction.
type metadataLayout struct {
	marker string
	re     *regexp.Regexp
}

var metadataLayouts = []metadataLayout{
	// solc < 0.5.9: {"bzzr0": <32 bytes>}
	{
		marker: "a165627a7a72305820",
		re:     regexp.MustCompile(`^a165627a7a72305820[0-9a-f]+?0029([0-9a-f]*)$`),
	},
	// solc 0.5.9 - 0.5.x: {"bzzr1": <32 bytes>, "solc": <3 bytes>}
	{
		marker: "a265627a7a72315820",
		re:     regexp.MustCompile(`^a265627a7a72315820[0-9a-f]{64}64736f6c6343[0-9a-f]{6}0032([0-9a-f]*)$`),
	},
	// solc >= 0.6.0: {"ipfs": <34 bytes>, "solc": <3 bytes>}
	{
		marker: "a264697066735822",
		re:     regexp.MustCompile(`^a264697066735822[0-9a-f]{68}64736f6c6343[0-9a-f]{6}0033([0-9a-f]*)$`),
	},
}

// Library placeholder patterns: solc >= 0.5 __$<34 hex>$__, and the legacy
// __Name____ form padded to 40 characters.
var (
	hashedPlaceholder = regexp.MustCompile(`__\$[a-f0-9]{34}\$__`)
	legacyPlaceholder = regexp.MustCompile(`__[A-Za-z0-9_.:/$]{36}__`)
)

// ExtractResult is the outcome of constructor argument recovery.
type ExtractResult struct {
	Args      string
	MatchType string
}

// ExtractConstructorArgs recovers ABI-encoded constructor arguments from a
// creation transaction input. When the input begins with the artifact
// bytecode the arguments are the remaining suffix. Otherwise the suffix after
// the last embedded metadata hash is used.
func ExtractConstructorArgs(input, bytecode string) ExtractResult {
	input = normalizeHex(input)
	bytecode = normalizeHex(bytecode)

	if bytecode != "" && strings.HasPrefix(input, bytecode) {
		return ExtractResult{Args: input[len(bytecode):], MatchType: chains.MatchFull}
	}

	if args, ok := argsAfterMetadata(input); ok {
		return ExtractResult{Args: args, MatchType: chains.MatchPartial}
	}

	return ExtractResult{MatchType: chains.MatchNone}
}

// ValidConstructorArgs reports whether args is a whole number of ABI words.
func ValidConstructorArgs(args string) bool {
	return len(args) > 0 && len(args)%ABIWordHexLen == 0 && validation.IsHex(args)
}

func argsAfterMetadata(input string) (string, bool) {
	for _, layout := range metadataLayouts {
		idx := strings.LastIndex(input, layout.marker)
		if idx == -1 {
			continue
		}
		if m := layout.re.FindStringSubmatch(input[idx:]); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// LinkBytecode substitutes library placeholders with deployed addresses.
// libraries maps library name (or fully qualified name) to address.
func LinkBytecode(bytecode string, libraries map[string]string) string {
	if len(libraries) == 0 {
		return bytecode
	}

	linked := bytecode
	for name, addr := range libraries {
		addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
		if len(addr) != 40 {
			continue
		}

		linked = strings.ReplaceAll(linked, legacyPlaceholderFor(name), addr)
		linked = strings.ReplaceAll(linked, hashedPlaceholderFor(name), addr)
	}
	return linked
}

// HasLibraryPlaceholders checks if bytecode contains library placeholders
func HasLibraryPlaceholders(bytecode string) bool {
	return hashedPlaceholder.MatchString(bytecode) || legacyPlaceholder.MatchString(bytecode)
}

func legacyPlaceholderFor(name string) string {
	p := "__" + name
	if len(p) > 38 {
		p = p[:38]
	}
	return p + strings.Repeat("_", 40-len(p))
}

// hashedPlaceholderFor is the first 17 bytes of keccak256(fully qualified name).
func hashedPlaceholderFor(name string) string {
	h := crypto.Keccak256([]byte(name))
	return "__$" + hex.EncodeToString(h[:17]) + "$__"
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ToLower(s)
}
