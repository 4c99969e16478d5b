// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the weight update rules used by training engines.
//
// # Overview
//
// This package contains:
//   - SGD: plain gradient descent
//   - Momentum and Nesterov: gradient descent with per-vector velocities
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Rule interface for custom rules
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/tessera/engine"
//	    "github.com/born-ml/tessera/optim"
//	)
//
//	func main() {
//	    rule, err := optim.New(optim.AdamName)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    stats, err := bwd.Run(ctx, reader, nil, engine.Step{
//	        LearningRate: 0.001,
//	        Rule:         rule,
//	        Loss:         loss,
//	    })
//	}
//
// # State
//
// Rules keep their state per layer index and weight vector index. A rule
// must not be shared between engines; Reset drops all accumulated state.
//
// # Weight Decay
//
// Engines pass a non-zero WeightDecay only for the vectors a layer lists in
// WeightDecayParts. The decay is added to the gradient before the rule
// applies it (L2 regularization).
package optim
