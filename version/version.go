// Copyright (c) 2025 Broadcom. All Rights Reserved.
// Broadcom Confidential. The term "Broadcom" refers to Broadcom Inc.
// and/or its subsidiaries.

package version

var (
	Version = "0.1.0"

	// GitSHA is the commit SHA value set during build via
	// -ldflags "-X github.com/lxlee/parallelMultiRun/version.GitSHA=<sha>"
	GitSHA = "Not provided"
)
