/*
Package uvc implements the device-side UVC class protocol: decoding of
gadget events into a typed event set, the Probe/Commit streaming
negotiation, the entity controls the kernel gadget descriptors advertise
(Input Terminal auto-exposure, Processing Unit brightness, Request Error
Code), and the static format catalog offered to the host.

The protocol layer is pure: handlers consume decoded events and produce
reply payloads and format-commit actions, and never touch a file
descriptor themselves. The device package owns the kernel round trips.

All references are to "Universal Serial Bus Device Class Definition for
Video Devices", version 1.1.
*/
package uvc
