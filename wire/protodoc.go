package wire

// This file documents the interop-normative wire schema from spec.md §6.3
// verbatim, as the target for a future protoc-generated codec. The actual
// Codec in this module implements the same message shapes over deterministic
// CBOR (see codec.go) because this environment has no protoc/protoc-gen-go
// available to generate and verify `.pb.go` bindings.
//
//	syntax = "proto3";
//	package treecrdt.sync.v0;
//
//	message SyncMessage {
//	  uint32 v = 1; // always 0
//	  string doc_id = 2;
//	  oneof payload {
//	    Hello hello = 3;
//	    HelloAck hello_ack = 4;
//	    RibltCodewords riblt_codewords = 5;
//	    RibltStatus riblt_status = 6;
//	    OpsBatch ops_batch = 7;
//	    Subscribe subscribe = 8;
//	    SubscribeAck subscribe_ack = 9;
//	    Unsubscribe unsubscribe = 10;
//	    SyncError sync_error = 11;
//	  }
//	}
//
//	message Operation {
//	  OperationMetadata meta = 1;
//	  oneof kind {
//	    Insert insert = 2;
//	    Move move = 3;
//	    Delete delete = 4;
//	    Tombstone tombstone = 5;
//	    Payload payload = 6;
//	  }
//	}
//
// Node ids are exactly 16 bytes; replica ids are exactly 32 bytes; both are
// carried as length-prefixed `bytes` fields on the wire but MUST be rejected
// if the length does not match.
