//go:build amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm

// This file compiles on known little-endian targets. The sibling file
// endian_unsupported.go fails the build on anything else: the 27-byte operand
// field (§3.2) is defined little-endian and gcore never byte-swaps it.

package subvec
