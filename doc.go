// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package midend is the root of a rule-driven
// simplifier for a typed SSA intermediate
// representation.
//
// Rules written in the DSL of package rules are
// compiled by package ruleset, matched against an
// e-graph (package egraph) by package rewrite and
// applied to a fixpoint by package simplify, which
// finally extracts the cheapest equivalent program
// with package extract.
package midend
