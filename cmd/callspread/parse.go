package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// parseAddress converts a flag value into common.Address, rejecting the zero address.
func parseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid --%s address: %s", name, input)
	}
	addr := common.HexToAddress(input)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("--%s must not be the zero address", name)
	}
	return addr, nil
}
