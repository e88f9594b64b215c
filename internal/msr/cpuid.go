// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package msr

import (
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/sustainable-computing-io/msrio/internal/pioerr"
)

// Consolidated (family<<8)+model ids of Intel processors
const (
	ModelSNB       = 0x62D
	ModelIVT       = 0x63E
	ModelHSX       = 0x63F
	ModelBDX       = 0x64F
	ModelSKLMobile = 0x64E
	ModelSKLClient = 0x65E
	ModelSKX       = 0x655
	ModelKNL       = 0x657
	ModelICX       = 0x66A
	ModelKBLMobile = 0x68E
	ModelKBLClient = 0x69E
)

// ModelID combines a display family and model into one id
func ModelID(family, model int) int {
	return (family << 8) + model
}

// ModelIDFromEAX decodes the EAX value of CPUID leaf 1.
// Family 6 folds in the extended model; family 15 folds in the extended
// model and the extended family.
func ModelIDFromEAX(eax uint32) int {
	model := int((eax & 0xF0) >> 4)
	family := int((eax & 0xF00) >> 8)
	extModel := int((eax & 0xF0000) >> 16)
	extFamily := int((eax & 0xFF00000) >> 20)

	switch family {
	case 6:
		model += extModel << 4
	case 15:
		model += extModel << 4
		family += extFamily
	}
	return ModelID(family, model)
}

// CurrentModelID returns the model id of the processor we are running on
func CurrentModelID() int {
	return ModelID(cpuid.CPU.Family, cpuid.CPU.Model)
}

// ParseModelID parses a hexadecimal model id with or without 0x prefix
func ParseModelID(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, pioerr.Wrap(pioerr.KindInvalidArgument, "ParseModelID", err)
	}
	return int(id), nil
}
