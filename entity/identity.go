package entity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Type tags prefixing entity identities.
const (
	StackTypeTag    = "cfn-stack"
	FunctionTypeTag = "lambda-function"
	RuntimeTypeTag  = "lambda-runtime"
)

// Identity returns typeTag followed by the hex SHA-1 digest of the
// concatenated inputs. The result has a fixed length for a given tag, only
// contains characters valid in a catalog name, and is the same for the
// same inputs on every call and in every process.
func Identity(typeTag string, inputs ...string) string {
	h := sha1.New()
	for _, in := range inputs {
		h.Write([]byte(in))
	}
	return typeTag + "-" + hex.EncodeToString(h.Sum(nil))
}

// StackIdentity is the identity of the stack with the given unique id.
func StackIdentity(stackID string) string {
	return Identity(StackTypeTag, stackID)
}

// FunctionIdentity is the identity of a function resource inside a stack.
func FunctionIdentity(stackID, logicalID string) string {
	return Identity(FunctionTypeTag, stackID, logicalID)
}

// RuntimeIdentity is the shared, unhashed identity of a runtime. Every
// function declaring the same runtime maps to the same identity.
func RuntimeIdentity(runtime string) string {
	var b strings.Builder
	b.WriteString(RuntimeTypeTag)
	b.WriteByte('-')
	for _, r := range runtime {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
