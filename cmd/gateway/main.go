// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log"

	"github.com/qwed-ai/platform/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		log.Fatal(err)
	}
}
