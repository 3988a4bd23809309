//go:build !(amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm)

package subvec

// gcore's operand encoding is defined little-endian (§3.2) and the
// bitstream word readers assume byte-aligned little-endian scanning
// (§4.4.2). Building on a big-endian target is a deliberate compile
// error rather than a silent correctness bug.
var _ = gcoreRequiresLittleEndianArchitecture
